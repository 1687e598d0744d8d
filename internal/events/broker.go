// Package events fans account events out to subscribers.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Type string

const (
	TradeExecuted  Type = "trade.executed"
	AccountUpdated Type = "account.updated"
	AccountClosed  Type = "account.closed"
	DayTradeReset  Type = "daytrade.reset"
)

type Event struct {
	Type      Type        `json:"type"`
	AccountID string      `json:"account_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher is what ledger services need from the broker.
type Publisher interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Stats are cumulative broker counters.
type Stats struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

// Broker delivers events to the subscribers of the event's account. Publish
// never blocks: a subscriber whose buffer is full misses the event and the
// drop is counted.
type Broker struct {
	bufferSize int
	logger     zerolog.Logger

	mu      sync.RWMutex
	subs    map[string]map[uint64]*Subscription
	nextID  uint64
	stopped bool

	published uint64
	delivered uint64
	dropped   uint64
}

func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broker{
		bufferSize: bufferSize,
		logger:     log.With().Str("component", "event_broker").Logger(),
		subs:       make(map[string]map[uint64]*Subscription),
	}
}

// Start stops the broker when ctx is done.
func (b *Broker) Start(ctx context.Context) {
	b.logger.Info().Msg("starting event broker")
	<-ctx.Done()
	b.Stop()
}

// Stop closes every subscription. Later subscriptions are closed immediately.
func (b *Broker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	for accountID, subs := range b.subs {
		for _, sub := range subs {
			sub.closeLocked()
		}
		delete(b.subs, accountID)
	}
	b.logger.Info().Msg("event broker stopped")
}

// Subscribe registers for one account's events.
func (b *Broker) Subscribe(accountID string) *Subscription {
	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{
		C:         ch,
		ch:        ch,
		broker:    b,
		accountID: accountID,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		sub.closeLocked()
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	if b.subs[accountID] == nil {
		b.subs[accountID] = make(map[uint64]*Subscription)
	}
	b.subs[accountID][sub.id] = sub
	return sub
}

func (b *Broker) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	atomic.AddUint64(&b.published, 1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[e.AccountID] {
		select {
		case sub.ch <- e:
			atomic.AddUint64(&b.delivered, 1)
		default:
			atomic.AddUint64(&sub.dropped, 1)
			if n := atomic.AddUint64(&b.dropped, 1); n%100 == 1 {
				b.logger.Warn().
					Str("account_id", e.AccountID).
					Str("event", string(e.Type)).
					Uint64("dropped_total", n).
					Msg("slow subscriber, dropping event")
			}
		}
	}
}

func (b *Broker) Stats() Stats {
	b.mu.RLock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	b.mu.RUnlock()

	return Stats{
		Published:   atomic.LoadUint64(&b.published),
		Delivered:   atomic.LoadUint64(&b.delivered),
		Dropped:     atomic.LoadUint64(&b.dropped),
		Subscribers: n,
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[sub.accountID]; ok {
		if _, ok := subs[sub.id]; ok {
			delete(subs, sub.id)
			sub.closeLocked()
		}
		if len(subs) == 0 {
			delete(b.subs, sub.accountID)
		}
	}
}

// Subscription receives events on C until cancelled or the broker stops.
type Subscription struct {
	C <-chan Event

	ch        chan Event
	broker    *Broker
	accountID string
	id        uint64
	dropped   uint64
	closed    bool
	once      sync.Once
}

// Cancel unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.broker.remove(s)
	})
}

// Dropped counts events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// closeLocked must run with the broker's write lock held.
func (s *Subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
