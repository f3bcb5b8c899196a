package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/auction-engine/internal/fanout"
)

// alertThresholds are the countdown points, in minutes before the end.
var alertThresholds = []int{30, 10, 5, 2, 1}

// alertWindow is the half width of the match window around each
// threshold.  With a one minute tick a listing may be alerted twice for
// the same threshold; it is never skipped.
const alertWindow = 30 * time.Second

// EndingSoon broadcasts countdown alerts for listings close to their
// deadline.
type EndingSoon struct{ Deps }

func NewEndingSoon(d Deps) *EndingSoon { return &EndingSoon{d} }

func (*EndingSoon) Name() string { return "ending-soon" }

// RunOnce checks every threshold independently; a failing query for one
// threshold does not hide alerts for the others.
func (t *EndingSoon) RunOnce(ctx context.Context) (int, error) {
	now := t.now()
	sent := 0
	var errs []error
	for _, minutes := range alertThresholds {
		target := now.Add(time.Duration(minutes) * time.Minute)
		listings, err := t.Listings.ListEndingBetween(ctx, target.Add(-alertWindow), target.Add(alertWindow))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, l := range listings {
			p := fanout.EndingSoonPayload{
				ProductID:    l.ID,
				ProductTitle: l.Title,
				MinutesLeft:  minutes,
				EndTime:      l.EndTime,
			}
			t.publish(ctx, fanout.ListingChannel(l.ID), fanout.EventEndingSoon, p)
			t.publish(ctx, fanout.UserChannel(l.SellerID), fanout.EventEndingSoon, p)
			sent++
		}
	}
	return sent, errors.Join(errs...)
}
