package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ksred/klear-paper/internal/errors"
	"github.com/ksred/klear-paper/internal/pricing"
	"github.com/ksred/klear-paper/internal/testutil"
	"github.com/ksred/klear-paper/internal/types"
)

var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func newAccount(id string) *types.Account {
	return &types.Account{
		AccountID:         id,
		OwnerID:           "owner-1",
		AccountType:       types.AccountTypeMargin,
		InitialCash:       testutil.D("50000"),
		Cash:              testutil.D("50000"),
		TotalValue:        testutil.D("50000"),
		Active:            true,
		OpenedAt:          t0,
		LastDayTradeReset: t0,
	}
}

func TestStoreAccountLifecycle(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := context.Background()

	acct := newAccount("acc-1")
	require.NoError(t, store.CreateAccount(ctx, acct))

	got, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, got.Cash.Equal(testutil.D("50000")))
	assert.Equal(t, types.AccountTypeMargin, got.AccountType)

	_, err = store.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)

	got.Active = false
	require.NoError(t, store.UpdateAccount(ctx, got))

	active, err := store.ListActiveAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	owned, err := store.ListAccountsByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestCommitTradeWritesEverything(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := context.Background()

	acct := newAccount("acc-1")
	require.NoError(t, store.CreateAccount(ctx, acct))

	acct.Cash = testutil.D("49000")
	pos := &types.Position{
		AccountID:   "acc-1",
		Symbol:      "AAPL",
		Quantity:    testutil.D("10"),
		AverageCost: testutil.D("100"),
		TotalCost:   testutil.D("1000"),
	}
	trade := &types.Trade{
		TradeID:    "trade-1",
		AccountID:  "acc-1",
		Symbol:     "AAPL",
		Side:       types.SideBuy,
		Quantity:   testutil.D("10"),
		Price:      testutil.D("100"),
		Notional:   testutil.D("1000"),
		Status:     types.TradeStatusExecuted,
		ExecutedAt: t0,
	}
	record := &types.IdempotencyRecord{
		AccountID:      "acc-1",
		IdempotencyKey: "key-1",
		ResourceID:     "trade-1",
		ResourceType:   "trade",
		ExpiresAt:      t0.Add(24 * time.Hour),
	}
	require.NoError(t, store.CommitTrade(ctx, Commit{Account: acct, Upserts: []*types.Position{pos}, Trade: trade, Idempotency: record}))

	got, err := store.GetAccountWithPositions(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, got.Cash.Equal(testutil.D("49000")))
	require.Len(t, got.Positions, 1)
	assert.True(t, got.Positions[0].TotalCost.Equal(testutil.D("1000")))

	rec, err := store.GetIdempotencyRecord(ctx, "acc-1", "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "trade-1", rec.ResourceID)

	missing, err := store.GetIdempotencyRecord(ctx, "acc-1", "other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	buys, err := store.ListTradesBySide(ctx, "acc-1", "AAPL", types.SideBuy)
	require.NoError(t, err)
	assert.Len(t, buys, 1)

	// closing the position removes the row
	acct.Cash = testutil.D("50200")
	sell := &types.Trade{
		TradeID: "trade-2", AccountID: "acc-1", Symbol: "AAPL", Side: types.SideSell,
		Quantity: testutil.D("10"), Price: testutil.D("120"), Notional: testutil.D("1200"),
		Status: types.TradeStatusExecuted, ExecutedAt: t0.Add(time.Minute),
	}
	require.NoError(t, store.CommitTrade(ctx, Commit{Account: acct, Delete: pos, Trade: sell}))

	positions, err := store.ListPositions(ctx, "acc-1")
	require.NoError(t, err)
	assert.Empty(t, positions)

	trades, err := store.ListTrades(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "trade-1", trades[0].TradeID)
	assert.Equal(t, "trade-2", trades[1].TradeID)
}

func TestCommitTradeRollsBackOnFailure(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := context.Background()

	acct := newAccount("acc-1")
	require.NoError(t, store.CreateAccount(ctx, acct))

	trade := types.Trade{
		TradeID: "dup", AccountID: "acc-1", Symbol: "AAPL", Side: types.SideBuy,
		Quantity: testutil.D("1"), Price: testutil.D("100"), Notional: testutil.D("100"),
		Status: types.TradeStatusExecuted, ExecutedAt: t0,
	}
	first := trade
	acct.Cash = testutil.D("49900")
	require.NoError(t, store.CommitTrade(ctx, Commit{Account: acct, Trade: &first}))

	// a second trade with the same id violates the unique index
	second := trade
	acct.Cash = testutil.D("1")
	err := store.CommitTrade(ctx, Commit{Account: acct, Trade: &second})
	require.Error(t, err)

	got, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, got.Cash.Equal(testutil.D("49900")), "cash was %s", got.Cash)
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := context.Background()
	db := store.db
	tokyo := time.FixedZone("JST", 9*60*60)

	for key, expires := range map[string]time.Time{
		"old":       t0.Add(-time.Hour),
		"at-now":    t0,
		"new":       t0.Add(time.Hour),
		"old-tokyo": t0.Add(-time.Minute).In(tokyo),
		"new-tokyo": t0.Add(time.Minute).In(tokyo),
	} {
		require.NoError(t, db.Create(&types.IdempotencyRecord{AccountID: "a", IdempotencyKey: key, ExpiresAt: expires}).Error)
	}

	n, err := store.PurgeExpiredIdempotency(ctx, t0.In(tokyo))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, key := range []string{"old", "at-now", "old-tokyo"} {
		rec, err := store.GetIdempotencyRecord(ctx, "a", key)
		require.NoError(t, err)
		assert.Nil(t, rec, key)
	}
	for _, key := range []string{"new", "new-tokyo"} {
		rec, err := store.GetIdempotencyRecord(ctx, "a", key)
		require.NoError(t, err)
		require.NotNil(t, rec, key)
		_, offset := rec.ExpiresAt.Zone()
		assert.Zero(t, offset, "expiry is stored in UTC")
	}

	n, err = store.PurgeExpiredIdempotency(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLockerSerializesPerKey(t *testing.T) {
	locker := NewLocker()
	var inside int32
	var maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("acc-1")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxInside) {
				atomic.StoreInt32(&maxInside, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, locker.Len())
}

func TestLockerIndependentKeys(t *testing.T) {
	locker := NewLocker()
	unlockA := locker.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locker.Lock("b")
		unlock()
		unlock() // idempotent
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestMarkToMarket(t *testing.T) {
	src := pricing.NewStatic(map[string]decimal.Decimal{"AAPL": testutil.D("110")})
	src.Fail("MSFT", errors.New("feed down"))

	acct := newAccount("acc-1")
	acct.Cash = testutil.D("1000")
	acct.RealizedPnL = testutil.D("50")
	positions := []types.Position{
		{Symbol: "AAPL", Quantity: testutil.D("10"), AverageCost: testutil.D("100"), TotalCost: testutil.D("1000")},
		{Symbol: "MSFT", Quantity: testutil.D("2"), AverageCost: testutil.D("400"), TotalCost: testutil.D("800"), LastPrice: testutil.D("390")},
	}

	stale := MarkToMarket(context.Background(), src, acct, positions, nil, t0, zerolog.Nop())
	assert.Equal(t, []string{"MSFT"}, stale)

	assert.True(t, positions[0].MarketValue.Equal(testutil.D("1100")))
	assert.True(t, positions[1].MarketValue.Equal(testutil.D("780")))
	assert.True(t, acct.MarketValue.Equal(testutil.D("1880")))
	assert.True(t, acct.TotalValue.Equal(testutil.D("2880")))
	assert.True(t, acct.UnrealizedPnL.Equal(testutil.D("80")))
	assert.True(t, acct.TotalPnL.Equal(testutil.D("130")))
}
