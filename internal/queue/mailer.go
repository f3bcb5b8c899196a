package queue

import "context"

// Mailer hands an email to the outbox.  Delivery is asynchronous; a nil
// error only means the message was accepted.
type Mailer interface {
	Send(ctx context.Context, to, template string, data EmailData) error
}
