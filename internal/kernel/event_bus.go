package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"pepebot/pkg/otogi"
)

var errBusClosed = errors.New("event bus closed")

// EventBus fans published events out to bounded per-subscription queues.
//
// Each subscription owns its queue and worker pool, so a slow subscriber only
// backs up according to its own backpressure policy.
type EventBus struct {
	defaults BusDefaults
	report   AsyncErrorFunc

	mu     sync.RWMutex
	closed bool
	seq    uint64
	subs   map[uint64]*subscriber
}

// SubscriptionStats counts what one subscription did with the events offered to it.
type SubscriptionStats struct {
	Name    string
	Handled uint64
	Failed  uint64
	Dropped uint64
}

// NewEventBus creates a bus. report may be nil.
func NewEventBus(defaults BusDefaults, report AsyncErrorFunc) *EventBus {
	if report == nil {
		report = func(context.Context, string, error) {}
	}

	return &EventBus{
		defaults: defaults,
		report:   report,
		subs:     make(map[uint64]*subscriber),
	}
}

// Publish validates event and offers it to every subscription whose interest
// matches. Drops and closed subscriptions go to the async error sink; any other
// enqueue failure, such as a canceled blocking enqueue, is returned.
func (b *EventBus) Publish(ctx context.Context, event *otogi.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	targets, err := b.matching(event)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var failed []error
	for _, sub := range targets {
		err := sub.offer(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, otogi.ErrEventDropped), errors.Is(err, otogi.ErrSubscriptionClosed):
			b.report(ctx, sub.spec.Name, err)
		default:
			failed = append(failed, err)
		}
	}
	if err := errors.Join(failed...); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	return nil
}

// Subscribe starts a subscription with its own queue and workers. Unset spec
// fields are taken from the bus defaults.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
) (otogi.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, errBusClosed)
	}

	b.seq++
	sub, err := newSubscriber(b, b.seq, interest, b.withDefaults(spec, b.seq), handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	b.subs[sub.id] = sub
	sub.start()

	return sub, nil
}

// Stats returns counters for every live subscription ordered by name.
func (b *EventBus) Stats() []SubscriptionStats {
	b.mu.RLock()
	stats := make([]SubscriptionStats, 0, len(b.subs))
	for _, sub := range b.subs {
		stats = append(stats, sub.stats())
	}
	b.mu.RUnlock()

	slices.SortFunc(stats, func(left, right SubscriptionStats) int {
		return strings.Compare(left.Name, right.Name)
	})

	return stats
}

// Close stops every subscription and rejects later publishes and subscribes.
// Calling Close again is a no-op.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()

	var failed []error
	for _, sub := range subs {
		if err := sub.shutdown(ctx); err != nil {
			failed = append(failed, err)
		}
	}
	if err := errors.Join(failed...); err != nil {
		return fmt.Errorf("close event bus: %w", err)
	}

	return nil
}

// matching snapshots the subscriptions interested in event so fan-out runs
// without holding the lock.
func (b *EventBus) matching(event *otogi.Event) ([]*subscriber, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errBusClosed
	}

	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.interest.Matches(event) {
			targets = append(targets, sub)
		}
	}

	return targets, nil
}

func (b *EventBus) withDefaults(spec otogi.SubscriptionSpec, id uint64) otogi.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.Buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.Workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.HandlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = otogi.BackpressureDropNewest
	}

	return spec
}

// remove detaches one subscription and waits for its workers.
func (b *EventBus) remove(ctx context.Context, id uint64) error {
	b.mu.Lock()
	sub, found := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if !found {
		return nil
	}
	if err := sub.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

var _ otogi.EventBus = (*EventBus)(nil)
