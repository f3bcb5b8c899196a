package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TokenRepo maintains the refresh_tokens table.  Tokens are issued by the
// account service; the engine only prunes them.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// DeleteCreatedBefore removes refresh token rows created before cutoff.
func (r *TokenRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE created_at < ?",
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete refresh tokens: %w", err)
	}
	return res.RowsAffected()
}
