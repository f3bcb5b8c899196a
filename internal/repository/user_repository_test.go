package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestUserRepo_GetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)
	exp := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WithArgs(uint64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "role", "is_active", "seller_expires_at"}).
			AddRow(int64(4), "a@b.c", "Ana", "seller", true, exp))

	u, err := repo.GetByID(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, "seller", u.Role)
	require.NotNil(t, u.SellerExpiresAt)
	require.Equal(t, exp, *u.SellerExpiresAt)
}

func TestUserRepo_GetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), 4)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepo_Rating(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT total_ratings, positive_ratings FROM users")).
		WithArgs(uint64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"total_ratings", "positive_ratings"}).AddRow(int64(10), int64(9)))

	r, err := repo.Rating(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, 10, r.TotalRatings)
	require.InDelta(t, 90.0, r.PositivePercentage(), 0.0001)
}

func TestUserRepo_DemoteExpiredSeller(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET role='bidder'")).
		WithArgs(uint64(4), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET role='bidder'")).
		WithArgs(uint64(4), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.DemoteExpiredSeller(context.Background(), 4, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.DemoteExpiredSeller(context.Background(), 4, now)
	require.NoError(t, err)
	require.False(t, ok, "second run finds nothing to demote")
}

func TestUserRepo_ClearExpiredOTPs(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET otp_code=NULL")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ClearExpiredOTPs(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestTokenRepo_DeleteCreatedBefore(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTokenRepo(db)
	cutoff := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE created_at < ?")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := repo.DeleteCreatedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(12), n)
}
