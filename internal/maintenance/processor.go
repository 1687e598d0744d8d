// Package maintenance refreshes cached ledger state on a schedule.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/klear-paper/internal/compliance"
	"github.com/ksred/klear-paper/internal/events"
	"github.com/ksred/klear-paper/internal/ledger"
	"github.com/ksred/klear-paper/internal/pricing"
	"github.com/ksred/klear-paper/internal/types"
)

// Processor applies the day trade window reset and re-marks positions for
// every active account. Every pass is idempotent.
type Processor struct {
	store   *ledger.Store
	prices  pricing.Source
	gate    *compliance.Gate
	bus     events.Publisher
	clock   func() time.Time
	timeout time.Duration // bound on one full pass
	logger  zerolog.Logger
}

func NewProcessor(store *ledger.Store, prices pricing.Source, gate *compliance.Gate, bus events.Publisher, clock func() time.Time) *Processor {
	if clock == nil {
		clock = time.Now
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Processor{
		store:   store,
		prices:  prices,
		gate:    gate,
		bus:     bus,
		clock:   clock,
		timeout: 25 * time.Second,
		logger:  log.With().Str("component", "ledger_maintenance").Logger(),
	}
}

// Result summarizes one pass.
type Result struct {
	Accounts int
	Resets   int
	Failed   int
	Stale    int
	Purged   int64
}

func (p *Processor) Name() string { return "ledger_maintenance" }

// Run performs one pass for the scheduler.
func (p *Processor) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	_, err := p.RunOnce(ctx)
	return err
}

// RunOnce refreshes every active account and purges expired idempotency
// records. A failing account is logged and skipped; the pass continues.
func (p *Processor) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	accounts, err := p.store.ListActiveAccounts(ctx)
	if err != nil {
		return res, fmt.Errorf("listing active accounts: %w", err)
	}
	res.Accounts = len(accounts)

	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		reset, stale, err := p.refresh(ctx, a.AccountID)
		if err != nil {
			res.Failed++
			p.logger.Error().Err(err).Str("account_id", a.AccountID).Msg("failed to refresh account")
			continue
		}
		if reset {
			res.Resets++
		}
		res.Stale += stale
	}

	purged, err := p.store.PurgeExpiredIdempotency(ctx, p.clock())
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to purge idempotency records")
	}
	res.Purged = purged

	p.logger.Info().
		Int("accounts", res.Accounts).
		Int("resets", res.Resets).
		Int("failed", res.Failed).
		Int("stale_marks", res.Stale).
		Int64("purged", res.Purged).
		Msg("maintenance pass complete")

	if res.Failed > 0 {
		return res, fmt.Errorf("%d of %d accounts failed to refresh", res.Failed, res.Accounts)
	}
	return res, nil
}

func (p *Processor) refresh(ctx context.Context, accountID string) (reset bool, stale int, err error) {
	unlock := p.store.Lock(accountID)
	defer unlock()

	// reload under the lock; the listing may predate a trade or a close
	account, err := p.store.GetAccountWithPositions(ctx, accountID)
	if err != nil {
		return false, 0, err
	}
	if !account.Active {
		return false, 0, nil
	}

	now := p.clock()
	reset = p.gate.ApplyReset(account, now)
	staleSymbols := ledger.MarkToMarket(ctx, p.prices, account, account.Positions, nil, now, p.logger)

	if err := p.store.SaveValuation(ctx, account, account.Positions); err != nil {
		return false, 0, err
	}

	if reset {
		p.logger.Info().Str("account_id", accountID).Msg("day trade window reset")
		p.bus.Publish(events.Event{Type: events.DayTradeReset, AccountID: accountID, Timestamp: now})
	}
	p.bus.Publish(events.Event{Type: events.AccountUpdated, AccountID: accountID, Data: types.NewAccountResponse(account), Timestamp: now})
	return reset, len(staleSymbols), nil
}
