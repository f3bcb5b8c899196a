package scheduler

import (
	"context"
	"errors"

	"github.com/iliyamo/auction-engine/internal/utils"
)

// Cleanup removes expired one-time codes and old refresh tokens.
type Cleanup struct{ Deps }

func NewCleanup(d Deps) *Cleanup { return &Cleanup{d} }

func (*Cleanup) Name() string { return "cleanup" }

func (t *Cleanup) RunOnce(ctx context.Context) (int, error) {
	now := t.now()
	var errs []error

	otps, err := t.Users.ClearExpiredOTPs(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	tokens, err := t.Tokens.DeleteCreatedBefore(ctx, now.AddDate(0, -1, 0))
	if err != nil {
		errs = append(errs, err)
	}
	if otps > 0 || tokens > 0 {
		utils.Info("cleanup: removed stale rows", map[string]any{"otp_codes": otps, "refresh_tokens": tokens})
	}
	return int(otps + tokens), errors.Join(errs...)
}
