package fanout

import "context"

// Publisher sends one event to every subscriber of a logical channel,
// cluster wide.  Implementations must preserve the order of publishes
// issued by one caller.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}
