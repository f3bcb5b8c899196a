package scheduler

import (
	"context"
	"errors"

	"github.com/iliyamo/auction-engine/internal/fanout"
	"github.com/iliyamo/auction-engine/internal/model"
	"github.com/iliyamo/auction-engine/internal/utils"
)

// Degradation demotes sellers whose temporary grant has expired.
type Degradation struct{ Deps }

func NewDegradation(d Deps) *Degradation { return &Degradation{d} }

func (*Degradation) Name() string { return "seller-degradation" }

func (t *Degradation) RunOnce(ctx context.Context) (int, error) {
	now := t.now()
	users, err := t.Users.ListExpiredSellerGrants(ctx, now)
	if err != nil {
		return 0, err
	}
	demoted := 0
	var errs []error
	for _, u := range users {
		ok, err := t.Users.DemoteExpiredSeller(ctx, u.ID, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		demoted++
		utils.Info("degradation: seller demoted", map[string]any{"user_id": u.ID})
		t.publish(ctx, fanout.UserChannel(u.ID), fanout.EventRoleChanged, fanout.RoleChangedPayload{
			OldRole: model.RoleSeller,
			NewRole: model.RoleBidder,
			Reason:  "temporary seller permission expired",
		})
	}
	return demoted, errors.Join(errs...)
}
