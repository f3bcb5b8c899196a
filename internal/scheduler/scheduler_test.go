package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auction-engine/internal/config"
	"github.com/iliyamo/auction-engine/internal/fanout"
	"github.com/iliyamo/auction-engine/internal/metrics"
	"github.com/iliyamo/auction-engine/internal/model"
	"github.com/iliyamo/auction-engine/internal/queue"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func uid(v uint64) *uint64 { return &v }

func deps(db *memDB, pub fanout.Publisher, mailer queue.Mailer) Deps {
	return Deps{
		Listings:  db,
		Users:     db,
		Tokens:    db,
		Publisher: pub,
		Mailer:    mailer,
		Metrics:   metrics.New(),
		Now:       func() time.Time { return now },
	}
}

func soldListing(id uint64) model.Listing {
	return model.Listing{
		ID:           id,
		SellerID:     100,
		Title:        "Desk lamp",
		CurrentPrice: decimal.NewFromInt(1_050_000),
		BidStep:      decimal.NewFromInt(50_000),
		EndTime:      now.Add(-time.Minute),
		Status:       model.ListingActive,
		TotalBids:    3,
		WinnerID:     uid(7),
	}
}

func seedUsers(db *memDB) {
	db.users[7] = model.User{ID: 7, Email: "winner@example.com", FullName: "Winner", Role: model.RoleBidder, IsActive: true}
	db.users[100] = model.User{ID: 100, Email: "seller@example.com", FullName: "Seller", Role: model.RoleSeller, IsActive: true}
}

func TestCloser_RunTwiceCreatesOneOrder(t *testing.T) {
	db := newMemDB()
	seedUsers(db)
	db.listings[1] = soldListing(1)
	db.autoBids[1] = true
	future := soldListing(2)
	future.EndTime = now.Add(time.Hour)
	db.listings[2] = future

	ctrl := gomock.NewController(t)
	mailer := queue.NewMockMailer(ctrl)
	mailer.EXPECT().Send(gomock.Any(), "winner@example.com", queue.TemplateAuctionWon, gomock.Any()).Return(nil).Times(1)
	mailer.EXPECT().Send(gomock.Any(), "seller@example.com", queue.TemplateAuctionSold, gomock.Any()).Return(nil).Times(1)

	pub := &recorder{}
	closer := NewCloser(deps(db, pub, mailer))

	n, err := closer.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = closer.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.Len(t, db.orders, 1)
	o := db.orders[1]
	require.Equal(t, uint64(7), o.BuyerID)
	require.Equal(t, uint64(100), o.SellerID)
	require.True(t, decimal.NewFromInt(1_050_000).Equal(o.FinalPrice))
	require.Equal(t, model.ListingCompleted, db.listings[1].Status)
	require.Equal(t, model.ListingActive, db.listings[2].Status)
	require.False(t, db.autoBids[1])

	byChannel := map[string]fanout.AuctionEndedPayload{}
	for _, s := range pub.all() {
		require.Equal(t, fanout.EventAuctionEnded, s.Event)
		byChannel[s.Channel] = s.Payload.(fanout.AuctionEndedPayload)
	}
	require.Len(t, byChannel, 3)
	assert.Equal(t, fanout.ResultWon, byChannel["user:7"].Result)
	assert.Equal(t, uint64(1), *byChannel["user:7"].OrderID)
	assert.Equal(t, fanout.ResultSold, byChannel["user:100"].Result)
	assert.Equal(t, fanout.ResultClosed, byChannel["listing:1"].Result)
}

func TestCloser_SettlesBidCommittedAfterSelection(t *testing.T) {
	db := newMemDB()
	seedUsers(db)
	db.users[9] = model.User{ID: 9, Email: "late@example.com", FullName: "Late", Role: model.RoleBidder, IsActive: true}
	db.listings[1] = soldListing(1)
	// A bid by user 9 commits between selection and the close.
	db.beforeClose = func(l *model.Listing) {
		l.WinnerID = uid(9)
		l.CurrentPrice = decimal.NewFromInt(1_100_000)
		l.TotalBids++
	}

	ctrl := gomock.NewController(t)
	mailer := queue.NewMockMailer(ctrl)
	mailer.EXPECT().Send(gomock.Any(), "late@example.com", queue.TemplateAuctionWon, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, data queue.EmailData) error {
			assert.True(t, decimal.NewFromInt(1_100_000).Equal(data.FinalPrice))
			return nil
		})
	mailer.EXPECT().Send(gomock.Any(), "seller@example.com", queue.TemplateAuctionSold, gomock.Any()).Return(nil)

	pub := &recorder{}
	n, err := NewCloser(deps(db, pub, mailer)).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	o := db.orders[1]
	require.Equal(t, uint64(9), o.BuyerID)
	require.True(t, decimal.NewFromInt(1_100_000).Equal(o.FinalPrice))

	channels := map[string]fanout.AuctionEndedPayload{}
	for _, s := range pub.all() {
		channels[s.Channel] = s.Payload.(fanout.AuctionEndedPayload)
	}
	require.Contains(t, channels, "user:9")
	require.NotContains(t, channels, "user:7")
	assert.Equal(t, uint64(9), *channels["listing:1"].WinnerID)
	assert.True(t, decimal.NewFromInt(1_100_000).Equal(*channels["user:100"].FinalPrice))
}

func TestCloser_OverlappingRuns(t *testing.T) {
	db := newMemDB()
	seedUsers(db)
	for id := uint64(1); id <= 20; id++ {
		db.listings[id] = soldListing(id)
	}
	d := deps(db, &recorder{}, nil)

	var wg sync.WaitGroup
	totals := make([]int, 4)
	for i := range totals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := NewCloser(d).RunOnce(context.Background())
			assert.NoError(t, err)
			totals[i] = n
		}(i)
	}
	wg.Wait()

	sum := 0
	for _, n := range totals {
		sum += n
	}
	require.Equal(t, 20, sum, "every listing closed by exactly one run")
	require.Len(t, db.orders, 20)
}

func TestCloser_NoWinnerNotifiesSellerOnly(t *testing.T) {
	db := newMemDB()
	seedUsers(db)
	l := soldListing(1)
	l.WinnerID = nil
	l.TotalBids = 0
	db.listings[1] = l

	ctrl := gomock.NewController(t)
	pub := fanout.NewMockPublisher(ctrl)
	pub.EXPECT().Publish(gomock.Any(), "user:100", fanout.EventAuctionEnded, fanout.AuctionEndedPayload{
		ProductID:    1,
		ProductTitle: "Desk lamp",
		Result:       fanout.ResultNoWinner,
	}).Return(nil).Times(1)
	mailer := queue.NewMockMailer(ctrl)
	mailer.EXPECT().Send(gomock.Any(), "seller@example.com", queue.TemplateAuctionNoWinner, gomock.Any()).Return(nil)

	n, err := NewCloser(deps(db, pub, mailer)).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, model.ListingCompleted, db.listings[1].Status)
	require.Empty(t, db.orders)
}

func TestCloser_EmailFailureKeepsSettlement(t *testing.T) {
	db := newMemDB()
	seedUsers(db)
	db.listings[1] = soldListing(1)

	ctrl := gomock.NewController(t)
	mailer := queue.NewMockMailer(ctrl)
	mailer.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("broker unreachable")).Times(2)

	n, err := NewCloser(deps(db, &recorder{}, mailer)).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, db.orders, 1)
	require.Equal(t, model.ListingCompleted, db.listings[1].Status)
}

func TestEndingSoon_Thresholds(t *testing.T) {
	db := newMemDB()
	mk := func(id uint64, left time.Duration) {
		db.listings[id] = model.Listing{ID: id, SellerID: 100 + id, Title: "x", EndTime: now.Add(left), Status: model.ListingActive}
	}
	mk(1, 30*time.Minute+20*time.Second) // inside the 30 minute window
	mk(2, 5*time.Minute-29*time.Second)  // inside the 5 minute window
	mk(3, 20*time.Minute)                // between thresholds
	mk(4, time.Minute)                   // 1 minute
	closed := model.Listing{ID: 5, SellerID: 105, EndTime: now.Add(10 * time.Minute), Status: model.ListingCompleted}
	db.listings[5] = closed

	pub := &recorder{}
	n, err := NewEndingSoon(deps(db, pub, nil)).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)

	minutes := map[string]int{}
	for _, s := range pub.all() {
		require.Equal(t, fanout.EventEndingSoon, s.Event)
		minutes[s.Channel] = s.Payload.(fanout.EndingSoonPayload).MinutesLeft
	}
	require.Equal(t, map[string]int{
		"listing:1": 30, "user:101": 30,
		"listing:2": 5, "user:102": 5,
		"listing:4": 1, "user:104": 1,
	}, minutes)
}

func TestCleanup(t *testing.T) {
	db := newMemDB()
	db.otps = 2
	db.tokens = []time.Time{now.AddDate(0, -2, 0), now.AddDate(0, -1, -1), now.AddDate(0, 0, -3)}

	n, err := NewCleanup(deps(db, &recorder{}, nil)).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Len(t, db.tokens, 1)
}

func TestDegradation(t *testing.T) {
	db := newMemDB()
	past := now.Add(-time.Hour)
	later := now.Add(time.Hour)
	db.users[1] = model.User{ID: 1, Role: model.RoleSeller, SellerExpiresAt: &past}
	db.users[2] = model.User{ID: 2, Role: model.RoleSeller, SellerExpiresAt: &later}
	db.users[3] = model.User{ID: 3, Role: model.RoleSeller}

	ctrl := gomock.NewController(t)
	pub := fanout.NewMockPublisher(ctrl)
	pub.EXPECT().Publish(gomock.Any(), "user:1", fanout.EventRoleChanged, gomock.Any()).Return(nil).Times(1)

	task := NewDegradation(deps(db, pub, nil))
	n, err := task.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, model.RoleBidder, db.users[1].Role)
	require.Equal(t, model.RoleSeller, db.users[2].Role)
	require.Equal(t, model.RoleSeller, db.users[3].Role)

	// A second run finds nothing left to demote.
	n, err = task.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestScheduler_RunTask(t *testing.T) {
	db := newMemDB()
	db.failList = errors.New("db down")
	s := New(deps(db, &recorder{}, nil), config.SchedulerConfig{})

	require.Equal(t, []string{"cleanup", "closer", "ending-soon", "seller-degradation"}, s.Names())
	_, err := s.RunTask(context.Background(), "closer")
	require.ErrorContains(t, err, "db down")
	_, err = s.RunTask(context.Background(), "nope")
	require.ErrorContains(t, err, "unknown task")
}

func TestScheduler_StartTicksUntilCancelled(t *testing.T) {
	db := newMemDB()
	seedUsers(db)
	db.listings[1] = soldListing(1)
	s := New(deps(db, &recorder{}, nil), config.SchedulerConfig{CloserEvery: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		db.mu.Lock()
		defer db.mu.Unlock()
		return db.listings[1].Status == model.ListingCompleted
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
