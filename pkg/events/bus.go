// Package events fans out the pipeline's outbound updates to external
// subscribers (§6.1). It generalizes the teacher's single app.OnTrade
// callback and pkg/api.Hub broadcast channel into a typed multi-event
// bus: OrderUpdate, Trade, BalanceEvent, and DepthUpdate each get their
// own publish method, and every subscriber gets its own buffered channel
// rather than one shared []byte broadcast channel.
package events

import (
	"sync"

	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/ubscore"
)

// OrderUpdate is published whenever an order's status or filled qty
// changes (place, partial fill, fill, cancel, expire, move, reduce).
type OrderUpdate struct {
	SymbolID uint32
	Order    *orderbook.Order
}

// TradeUpdate is published for every resolved fill.
type TradeUpdate struct {
	SymbolID  uint32
	TradeID   uint64
	Price     uint64
	Qty       uint64
	MakerUser uint64
	TakerUser uint64
}

// DepthUpdate is published after a symbol's book changes.
type DepthUpdate struct {
	SymbolID uint32
	Bids     []orderbook.PriceLevel
	Asks     []orderbook.PriceLevel
}

// Event is the union delivered to a subscriber channel; exactly one field
// is set per value, mirroring the teacher's tagged broadcast messages in
// pkg/api/types.go.
type Event struct {
	Order   *OrderUpdate
	Trade   *TradeUpdate
	Balance *ubscore.BalanceEvent
	Depth   *DepthUpdate
}

// DroppedCounter is satisfied by pkg/metrics; kept as a narrow interface
// (§9) rather than importing pkg/metrics directly, so pkg/events has no
// hard dependency on the metrics backend.
type DroppedCounter interface {
	IncEventsDropped(subscriber string)
}

type subscriber struct {
	name string
	ch   chan Event
}

// Bus fans out events to registered subscribers over buffered channels
// (§6.1, grounded on pkg/api.Hub's register/unregister/broadcast loop).
// Unlike the WAL, outbound events are explicitly allowed to be sampled
// or dropped: a full subscriber channel has its oldest pending event
// evicted rather than blocking the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	metrics DroppedCounter
}

func NewBus(metrics DroppedCounter) *Bus {
	return &Bus{subs: make(map[string]*subscriber), metrics: metrics}
}

// Subscribe registers a new subscriber with the given buffer capacity,
// returning a receive-only channel of Events.
func (b *Bus) Subscribe(name string, capacity int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{name: name, ch: make(chan Event, capacity)}
	b.subs[name] = sub
	return sub.ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[name]; ok {
		close(sub.ch)
		delete(b.subs, name)
	}
}

func (b *Bus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Channel saturated: drop the oldest pending event and retry
			// once, rather than blocking the publisher (§6.1/§5).
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
			if b.metrics != nil {
				b.metrics.IncEventsDropped(sub.name)
			}
		}
	}
}

func (b *Bus) PublishOrder(u OrderUpdate)             { b.publish(Event{Order: &u}) }
func (b *Bus) PublishTrade(t TradeUpdate)             { b.publish(Event{Trade: &t}) }
func (b *Bus) PublishBalance(e ubscore.BalanceEvent)  { b.publish(Event{Balance: &e}) }
func (b *Bus) PublishDepth(d DepthUpdate)             { b.publish(Event{Depth: &d}) }

// SubscriberCount reports how many subscribers are currently registered,
// for metrics/diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
