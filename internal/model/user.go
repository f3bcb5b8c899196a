package model

import "time"

// Roles stored in users.role.
const (
	RoleBidder = "bidder"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// User represents the subset of the `users` table the engine needs:
// identity for the connection gate, the role for authorization and the
// temporary seller grant consumed by the degradation task.
//
// Fields:
//  ID              - primary key identifier of the user.
//  Email           - unique email address, used for notifications.
//  FullName        - display name.
//  Role            - bidder, seller or admin.
//  IsActive        - inactive accounts are rejected by the gate.
//  SellerExpiresAt - end of a temporary seller grant (nil when permanent or absent).
type User struct {
	ID              uint64     // users.id
	Email           string     // users.email
	FullName        string     // users.full_name
	Role            string     // users.role
	IsActive        bool       // users.is_active
	SellerExpiresAt *time.Time // users.seller_expires_at (nullable)
}
