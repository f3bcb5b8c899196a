package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-engine/internal/model"
)

// ListingRepo provides access to the products table and the tables
// hanging off a listing (bids, denied bidders, auto bids, orders).  All
// timestamps are UTC.
type ListingRepo struct {
	db *sql.DB
}

// NewListingRepo returns a new ListingRepo bound to the provided database.
func NewListingRepo(db *sql.DB) *ListingRepo { return &ListingRepo{db: db} }

// BidCommit carries everything written by one successful bid.  NewEndTime
// is set only when the bid triggered an auto-extension.
type BidCommit struct {
	ListingID  uint64
	BidderID   uint64
	Price      decimal.Decimal
	IsAuto     bool
	At         time.Time
	NewEndTime *time.Time
}

// CloseResult reports what CloseListing did.  Closed is false when another
// run already transitioned the listing.  Listing is the row as completed,
// read inside the closing transaction; settlement must use it rather
// than the listing passed in.
type CloseResult struct {
	Closed  bool
	Listing model.Listing
	Order   *model.Order
}

const listingColumns = `id, seller_id, title, start_price, current_price, bid_step, buy_now_price,
	end_time, auto_extend, status, total_bids, winner_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (model.Listing, error) {
	var (
		l      model.Listing
		buyNow decimal.NullDecimal
		winner sql.NullInt64
		status string
	)
	err := row.Scan(&l.ID, &l.SellerID, &l.Title, &l.StartPrice, &l.CurrentPrice, &l.BidStep, &buyNow,
		&l.EndTime, &l.AutoExtend, &status, &l.TotalBids, &winner)
	if err != nil {
		return model.Listing{}, err
	}
	l.Status = model.ListingStatus(status)
	l.EndTime = l.EndTime.UTC()
	if buyNow.Valid {
		p := buyNow.Decimal
		l.BuyNowPrice = &p
	}
	if winner.Valid && winner.Int64 > 0 {
		w := uint64(winner.Int64)
		l.WinnerID = &w
	}
	return l, nil
}

// GetByID loads a listing.  It always reads the current row so callers
// holding the bid lock see every previously committed bid.
func (r *ListingRepo) GetByID(ctx context.Context, id uint64) (model.Listing, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM products WHERE id = ? LIMIT 1`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Listing{}, ErrListingNotFound
	}
	if err != nil {
		return model.Listing{}, fmt.Errorf("get listing %d: %w", id, err)
	}
	return l, nil
}

// IsDenied reports whether the seller barred bidderID from listingID.
func (r *ListingRepo) IsDenied(ctx context.Context, listingID, bidderID uint64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM product_denied_bidders WHERE product_id = ? AND bidder_id = ? LIMIT 1`,
		listingID, bidderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("denylist lookup %d/%d: %w", listingID, bidderID, err)
	}
	return true, nil
}

// CommitBid inserts the bid and updates the listing aggregates in a
// single transaction.  The update repeats the active and deadline
// predicates so a listing that closed or expired concurrently yields
// ErrConflict instead of a bid on a finished auction.  end_time is only
// ever moved forward.
func (r *ListingRepo) CommitBid(ctx context.Context, c BidCommit) (model.Bid, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Bid{}, fmt.Errorf("begin bid tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	at := c.At.UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bids (product_id, bidder_id, bid_price, is_auto, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ListingID, c.BidderID, c.Price, c.IsAuto, at)
	if err != nil {
		return model.Bid{}, fmt.Errorf("insert bid: %w", err)
	}
	bidID, err := res.LastInsertId()
	if err != nil {
		return model.Bid{}, fmt.Errorf("insert bid id: %w", err)
	}

	query := `UPDATE products SET current_price = ?, winner_id = ?, total_bids = total_bids + 1`
	args := []any{c.Price, c.BidderID}
	if c.NewEndTime != nil {
		query += `, end_time = GREATEST(end_time, ?)`
		args = append(args, c.NewEndTime.UTC())
	}
	query += ` WHERE id = ? AND status = 'active' AND end_time > ?`
	args = append(args, c.ListingID, at)
	res, err = tx.ExecContext(ctx, query, args...)
	if err != nil {
		return model.Bid{}, fmt.Errorf("update listing: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.Bid{}, fmt.Errorf("update listing rows: %w", err)
	} else if n != 1 {
		return model.Bid{}, ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return model.Bid{}, fmt.Errorf("commit bid tx: %w", err)
	}
	committed = true
	return model.Bid{
		ID:        uint64(bidID),
		ListingID: c.ListingID,
		BidderID:  c.BidderID,
		BidPrice:  c.Price,
		IsAuto:    c.IsAuto,
		CreatedAt: at,
	}, nil
}

// ListRankedBids returns the bid history of a listing ordered by price
// descending and, for equal prices, by arrival.
func (r *ListingRepo) ListRankedBids(ctx context.Context, listingID uint64, limit int) ([]model.Bid, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, product_id, bidder_id, bid_price, is_auto, created_at
		 FROM bids WHERE product_id = ?
		 ORDER BY bid_price DESC, created_at ASC
		 LIMIT ?`, listingID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bids %d: %w", listingID, err)
	}
	defer rows.Close()
	bids := make([]model.Bid, 0)
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.ID, &b.ListingID, &b.BidderID, &b.BidPrice, &b.IsAuto, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// ListEndingBetween returns active listings whose deadline falls in
// [from, to].
func (r *ListingRepo) ListEndingBetween(ctx context.Context, from, to time.Time) ([]model.Listing, error) {
	return r.list(ctx,
		`SELECT `+listingColumns+` FROM products
		 WHERE status = 'active' AND end_time BETWEEN ? AND ?
		 ORDER BY end_time`, from.UTC(), to.UTC())
}

// ListExpiredActive returns up to limit active listings whose deadline
// is not after now.
func (r *ListingRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]model.Listing, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.list(ctx,
		`SELECT `+listingColumns+` FROM products
		 WHERE status = 'active' AND end_time <= ?
		 ORDER BY end_time
		 LIMIT ?`, now.UTC(), limit)
}

func (r *ListingRepo) list(ctx context.Context, query string, args ...any) ([]model.Listing, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()
	out := make([]model.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CloseListing completes an expired listing.  The status update carries
// the selection predicate, so when two closer runs race only the one
// whose update matches the row proceeds to create the order.  The row is
// re-read after the update, under its lock, so the order carries the
// committed winner and price even if a bid landed after l was selected.
// Auto-bid agreements are deactivated in the same transaction.
func (r *ListingRepo) CloseListing(ctx context.Context, l model.Listing, now time.Time) (CloseResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return CloseResult{}, fmt.Errorf("begin close tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE products SET status = 'completed'
		 WHERE id = ? AND status = 'active' AND end_time <= ?`, l.ID, now.UTC())
	if err != nil {
		return CloseResult{}, fmt.Errorf("complete listing %d: %w", l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return CloseResult{}, fmt.Errorf("complete listing rows: %w", err)
	}
	if n == 0 {
		return CloseResult{}, nil
	}

	cur, err := scanListing(tx.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM products WHERE id = ? FOR UPDATE`, l.ID))
	if err != nil {
		return CloseResult{}, fmt.Errorf("reload closed listing %d: %w", l.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE auto_bids SET is_active = 0 WHERE product_id = ? AND is_active = 1`, l.ID); err != nil {
		return CloseResult{}, fmt.Errorf("deactivate auto bids %d: %w", l.ID, err)
	}

	out := CloseResult{Closed: true, Listing: cur}
	if cur.HasWinner() {
		order := &model.Order{
			ListingID:  cur.ID,
			BuyerID:    *cur.WinnerID,
			SellerID:   cur.SellerID,
			FinalPrice: cur.CurrentPrice,
			Status:     model.OrderPending,
			CreatedAt:  now.UTC(),
		}
		switch err := createOrderTx(ctx, tx, order); {
		case err == nil:
			out.Order = order
		case errors.Is(err, ErrConflict):
			// An order for this listing already exists; completing the
			// listing is still correct.
		default:
			return CloseResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return CloseResult{}, fmt.Errorf("commit close tx: %w", err)
	}
	committed = true
	return out, nil
}

// createOrderTx inserts the order and fills its ID.  A duplicate
// product_id means the listing already has an order.
func createOrderTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO orders (product_id, buyer_id, seller_id, final_price, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		o.ListingID, o.BuyerID, o.SellerID, o.FinalPrice, o.Status, o.CreatedAt)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return ErrConflict
		}
		return fmt.Errorf("insert order %d: %w", o.ListingID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert order id: %w", err)
	}
	o.ID = uint64(id)
	return nil
}
