package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/auction-engine/internal/model"
)

// UserRepo reads identities and ratings and performs the role and OTP
// housekeeping updates of the scheduler.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var (
		u       model.User
		expires sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,full_name,role,is_active,seller_expires_at FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.IsActive, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	if expires.Valid {
		t := expires.Time.UTC()
		u.SellerExpiresAt = &t
	}
	return u, nil
}

// Rating returns the rating aggregate of a user.
func (r *UserRepo) Rating(ctx context.Context, id uint64) (model.RatingSnapshot, error) {
	var s model.RatingSnapshot
	err := r.DB.QueryRowContext(ctx,
		"SELECT total_ratings, positive_ratings FROM users WHERE id=? LIMIT 1",
		id).Scan(&s.TotalRatings, &s.PositiveRatings)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RatingSnapshot{}, ErrUserNotFound
	}
	if err != nil {
		return model.RatingSnapshot{}, fmt.Errorf("rating of %d: %w", id, err)
	}
	return s, nil
}

// ListExpiredSellerGrants returns sellers whose temporary grant ended
// at or before now.
func (r *UserRepo) ListExpiredSellerGrants(ctx context.Context, now time.Time) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id,email,full_name,role,is_active,seller_expires_at FROM users WHERE role='seller' AND seller_expires_at IS NOT NULL AND seller_expires_at <= ?",
		now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired sellers: %w", err)
	}
	defer rows.Close()
	out := make([]model.User, 0)
	for rows.Next() {
		var (
			u       model.User
			expires sql.NullTime
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.IsActive, &expires); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time.UTC()
			u.SellerExpiresAt = &t
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DemoteExpiredSeller turns an expired temporary seller back into a
// bidder.  The predicate is repeated so a user who was already demoted,
// or whose grant was renewed since selection, is left alone and false is
// returned.
func (r *UserRepo) DemoteExpiredSeller(ctx context.Context, id uint64, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET role='bidder', seller_expires_at=NULL WHERE id=? AND role='seller' AND seller_expires_at IS NOT NULL AND seller_expires_at <= ?",
		id, now.UTC())
	if err != nil {
		return false, fmt.Errorf("demote seller %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClearExpiredOTPs wipes one-time codes whose expiry has passed and
// returns how many users were touched.
func (r *UserRepo) ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET otp_code=NULL, otp_expires_at=NULL WHERE otp_expires_at IS NOT NULL AND otp_expires_at < ?",
		now.UTC())
	if err != nil {
		return 0, fmt.Errorf("clear otp codes: %w", err)
	}
	return res.RowsAffected()
}
