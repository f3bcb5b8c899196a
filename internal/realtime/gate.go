// Package realtime is the websocket surface: the connection gate that
// binds a socket to a user, and the per-connection message handlers.
package realtime

import (
	"context"
	"errors"
	"net/http"

	"github.com/iliyamo/auction-engine/internal/model"
	"github.com/iliyamo/auction-engine/internal/repository"
	"github.com/iliyamo/auction-engine/internal/utils"
)

// Rejection reasons reported before the upgrade.
const (
	ReasonMissingToken    = "missing token"
	ReasonInvalidToken    = "invalid token"
	ReasonExpiredToken    = "expired token"
	ReasonInactiveAccount = "inactive account"
)

// Users resolves token subjects.
type Users interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// Identity is fixed for the lifetime of a connection.
type Identity struct {
	UserID uint64
	Role   string
}

// GateError is a typed refusal with the HTTP status to send.
type GateError struct {
	Status int
	Reason string
}

func (e *GateError) Error() string { return e.Reason }

// Gate authenticates realtime connections.
type Gate struct {
	secret string
	users  Users
}

func NewGate(secret string, users Users) *Gate {
	return &Gate{secret: secret, users: users}
}

// Authenticate verifies the bearer credential of r and loads the user.
// The role is taken from the store, not from the token, so a demoted
// seller connects with their current role.
func (g *Gate) Authenticate(r *http.Request) (Identity, error) {
	claims, err := utils.ParseAccessToken(g.secret, utils.TokenFromRequest(r))
	switch {
	case errors.Is(err, utils.ErrTokenMissing):
		return Identity{}, &GateError{Status: http.StatusUnauthorized, Reason: ReasonMissingToken}
	case errors.Is(err, utils.ErrTokenExpired):
		return Identity{}, &GateError{Status: http.StatusUnauthorized, Reason: ReasonExpiredToken}
	case err != nil:
		return Identity{}, &GateError{Status: http.StatusUnauthorized, Reason: ReasonInvalidToken}
	}

	u, err := g.users.GetByID(r.Context(), claims.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return Identity{}, &GateError{Status: http.StatusUnauthorized, Reason: ReasonInvalidToken}
	}
	if err != nil {
		return Identity{}, err
	}
	if !u.IsActive {
		return Identity{}, &GateError{Status: http.StatusForbidden, Reason: ReasonInactiveAccount}
	}
	return Identity{UserID: u.ID, Role: u.Role}, nil
}
