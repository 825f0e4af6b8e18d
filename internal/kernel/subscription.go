package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"pepebot/pkg/otogi"
)

// subscriber is one bus subscription: a bounded queue drained by a fixed pool
// of workers. Workers stop on cancellation; the queue channel is never closed.
type subscriber struct {
	id       uint64
	bus      *EventBus
	interest otogi.InterestSet
	spec     otogi.SubscriptionSpec
	handler  otogi.EventHandler
	admit    func(context.Context, *otogi.Event) error

	queue   chan *otogi.Event
	stop    context.CancelFunc
	stopped chan struct{}
	closing atomic.Bool
	once    sync.Once

	handled atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func newSubscriber(
	bus *EventBus,
	id uint64,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
) (*subscriber, error) {
	sub := &subscriber{
		id:       id,
		bus:      bus,
		interest: interest.Clone(),
		spec:     spec,
		handler:  handler,
		queue:    make(chan *otogi.Event, spec.Buffer),
		stop:     func() {},
		stopped:  make(chan struct{}),
	}

	switch spec.Backpressure {
	case otogi.BackpressureDropNewest:
		sub.admit = sub.admitOrDrop
	case otogi.BackpressureDropOldest:
		sub.admit = sub.admitEvictingOldest
	case otogi.BackpressureBlock:
		sub.admit = sub.admitWaiting
	default:
		return nil, fmt.Errorf("%w: unknown backpressure policy %q", otogi.ErrInvalidSubscription, spec.Backpressure)
	}

	return sub, nil
}

// Name returns the subscription name after defaults were applied.
func (s *subscriber) Name() string {
	return s.spec.Name
}

// Close detaches the subscription from its bus and waits for in-flight handlers.
func (s *subscriber) Close(ctx context.Context) error {
	return s.bus.remove(ctx, s.id)
}

func (s *subscriber) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel

	var workers sync.WaitGroup
	for worker := range s.spec.Workers {
		workers.Go(func() {
			s.work(ctx, worker)
		})
	}
	go func() {
		workers.Wait()
		close(s.stopped)
	}()
}

func (s *subscriber) offer(ctx context.Context, event *otogi.Event) error {
	if s.closing.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, otogi.ErrSubscriptionClosed)
	}
	if err := s.admit(ctx, event); err != nil {
		if errors.Is(err, otogi.ErrEventDropped) {
			s.dropped.Add(1)
		}
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, err)
	}

	return nil
}

func (s *subscriber) admitOrDrop(_ context.Context, event *otogi.Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
		return otogi.ErrEventDropped
	}
}

// admitEvictingOldest makes room by discarding the head of a full queue.
func (s *subscriber) admitEvictingOldest(ctx context.Context, event *otogi.Event) error {
	if s.admitOrDrop(ctx, event) == nil {
		return nil
	}

	select {
	case <-s.queue:
		s.dropped.Add(1)
	default:
	}

	return s.admitOrDrop(ctx, event)
}

// admitWaiting blocks the publisher until there is room, the publisher gives
// up, or the subscription stops.
func (s *subscriber) admitWaiting(ctx context.Context, event *otogi.Event) error {
	select {
	case s.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return otogi.ErrSubscriptionClosed
	}
}

func (s *subscriber) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.queue:
			s.deliver(ctx, worker, event)
		}
	}
}

// deliver runs the handler under the subscription deadline. Errors and
// recovered panics are counted and reported; the worker keeps going.
func (s *subscriber) deliver(ctx context.Context, worker int, event *otogi.Event) {
	if s.spec.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.spec.HandlerTimeout)
		defer cancel()
	}

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, worker)
	err := guard(scope, func() error {
		return s.handler(ctx, event)
	})
	if err == nil {
		s.handled.Add(1)
		return
	}

	s.failed.Add(1)
	s.bus.report(ctx, s.spec.Name, fmt.Errorf("handle event %s: %w", event.Kind, err))
}

func (s *subscriber) stats() SubscriptionStats {
	return SubscriptionStats{
		Name:    s.spec.Name,
		Handled: s.handled.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
	}
}

// shutdown stops the workers once and waits for them or for ctx.
func (s *subscriber) shutdown(ctx context.Context) error {
	s.once.Do(func() {
		s.closing.Store(true)
		s.stop()
	})

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}

var _ otogi.Subscription = (*subscriber)(nil)
