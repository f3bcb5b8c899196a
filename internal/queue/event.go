// Package queue is the email outbox.  The closer enqueues EmailEvent
// messages on RabbitMQ; a background consumer renders and delivers them.
package queue

import "github.com/shopspring/decimal"

// Email templates sent when an auction closes.
const (
	TemplateAuctionWon      = "auction_won"
	TemplateAuctionSold     = "auction_sold"
	TemplateAuctionNoWinner = "auction_no_winner"
)

// EmailData is the template input.  OrderID is zero when no order exists.
type EmailData struct {
	RecipientName string          `json:"recipient_name"`
	ProductID     uint64          `json:"product_id"`
	ProductTitle  string          `json:"product_title"`
	FinalPrice    decimal.Decimal `json:"final_price"`
	OrderID       uint64          `json:"order_id,omitempty"`
	EndedAt       string          `json:"ended_at"`
}

// EmailEvent is the message body on the email queue.  It carries enough
// to render the mail without querying the primary database.
type EmailEvent struct {
	To       string    `json:"to"`
	Template string    `json:"template"`
	Data     EmailData `json:"data"`
	QueuedAt string    `json:"queued_at"`
}
