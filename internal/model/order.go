package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderPending is the status given to orders created by the auction
// closer.  Later transitions belong to the checkout service.
const OrderPending = "pending_payment"

// Order models a row in the `orders` table.  Exactly one order exists
// per closed listing with a winner; the product_id column is unique.
type Order struct {
	ID         uint64          // orders.id
	ListingID  uint64          // orders.product_id
	BuyerID    uint64          // orders.buyer_id
	SellerID   uint64          // orders.seller_id
	FinalPrice decimal.Decimal // orders.final_price
	Status     string          // orders.status
	CreatedAt  time.Time       // orders.created_at
}
