package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pepebot/pkg/otogi"
)

// TestEventBusPublishDeliversMatchingSubscriptions verifies filtered publish delivery.
func TestEventBusPublishDeliversMatchingSubscriptions(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(BusDefaults{Buffer: 8, Workers: 1, HandlerTimeout: time.Second}, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	received := make(chan *otogi.Event, 1)
	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{
		Kinds: []otogi.EventKind{otogi.EventKindMessageCreated},
	}, otogi.SubscriptionSpec{
		Name: "match",
	}, func(_ context.Context, event *otogi.Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e1", otogi.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case event := <-received:
		if event.ID != "e1" {
			t.Fatalf("event id = %s, want e1", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

// TestEventBusBackpressurePolicies verifies queue behavior under each backpressure policy.
func TestEventBusBackpressurePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		policy     otogi.BackpressurePolicy
		wantEvents []string
	}{
		{
			name:       "drop newest keeps queued oldest",
			policy:     otogi.BackpressureDropNewest,
			wantEvents: []string{"e1", "e2"},
		},
		{
			name:       "drop oldest keeps latest",
			policy:     otogi.BackpressureDropOldest,
			wantEvents: []string{"e1", "e3"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			bus := NewEventBus(BusDefaults{Buffer: 1, Workers: 1, HandlerTimeout: time.Second}, nil)
			t.Cleanup(func() {
				_ = bus.Close(context.Background())
			})

			release := make(chan struct{})
			blocked := make(chan struct{}, 1)
			processed := make([]string, 0, 3)
			var first sync.Once
			var mu sync.Mutex

			_, err := bus.Subscribe(context.Background(), otogi.InterestSet{
				Kinds: []otogi.EventKind{otogi.EventKindMessageCreated},
			}, otogi.SubscriptionSpec{
				Name:         "policy",
				Workers:      1,
				Buffer:       1,
				Backpressure: testCase.policy,
			}, func(_ context.Context, event *otogi.Event) error {
				first.Do(func() {
					blocked <- struct{}{}
					<-release
				})
				mu.Lock()
				processed = append(processed, event.ID)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			if err := bus.Publish(context.Background(), newTestEvent("e1", otogi.EventKindMessageCreated)); err != nil {
				t.Fatalf("publish e1 failed: %v", err)
			}
			select {
			case <-blocked:
			case <-time.After(time.Second):
				t.Fatal("handler did not block as expected")
			}
			if err := bus.Publish(context.Background(), newTestEvent("e2", otogi.EventKindMessageCreated)); err != nil {
				t.Fatalf("publish e2 failed: %v", err)
			}
			if err := bus.Publish(context.Background(), newTestEvent("e3", otogi.EventKindMessageCreated)); err != nil {
				t.Fatalf("publish e3 failed: %v", err)
			}

			close(release)
			eventually(t, 2*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(processed) == 2
			})

			mu.Lock()
			gotEvents := append([]string(nil), processed...)
			mu.Unlock()
			if gotEvents[0] != testCase.wantEvents[0] || gotEvents[1] != testCase.wantEvents[1] {
				t.Fatalf("processed = %v, want %v", gotEvents, testCase.wantEvents)
			}
		})
	}
}

// TestEventBusCloseRejectsNewPublish verifies publish rejection after bus closure.
func TestEventBusCloseRejectsNewPublish(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(BusDefaults{Buffer: 8, Workers: 1, HandlerTimeout: time.Second}, nil)
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	err := bus.Publish(context.Background(), newTestEvent("e1", otogi.EventKindMessageCreated))
	if err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
}

// TestEventBusPublishNilEventReturnsError verifies nil event publish safety.
func TestEventBusPublishNilEventReturnsError(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(BusDefaults{Buffer: 8, Workers: 1, HandlerTimeout: time.Second}, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	if err := bus.Publish(context.Background(), nil); err == nil {
		t.Fatal("expected nil event publish to fail")
	}
}

// TestEventBusWorkersHandleConcurrently verifies one subscription fans out over its workers.
func TestEventBusWorkersHandleConcurrently(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(BusDefaults{Buffer: 16, Workers: 1, HandlerTimeout: time.Second}, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	const workers = 4
	var active atomic.Int32
	var peak atomic.Int32
	release := make(chan struct{})
	var done sync.WaitGroup
	done.Add(workers)

	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{
		Kinds: []otogi.EventKind{otogi.EventKindCommandReceived},
	}, otogi.SubscriptionSpec{
		Name:    "parallel",
		Workers: workers,
	}, func(_ context.Context, _ *otogi.Event) error {
		defer done.Done()
		current := active.Add(1)
		for {
			seen := peak.Load()
			if current <= seen || peak.CompareAndSwap(seen, current) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for idx := range workers {
		if err := bus.Publish(context.Background(), newTestEvent(fmt.Sprintf("e%d", idx), otogi.EventKindCommandReceived)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	eventually(t, 2*time.Second, func() bool {
		return peak.Load() == workers
	})
	close(release)
	done.Wait()
}

// TestEventBusRecoversHandlerPanic verifies a panicking handler is reported and the worker survives.
func TestEventBusRecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 1)
	bus := NewEventBus(BusDefaults{Buffer: 8, Workers: 1, HandlerTimeout: time.Second}, func(_ context.Context, _ string, err error) {
		reported <- err
	})
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	handled := make(chan string, 1)
	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{}, otogi.SubscriptionSpec{
		Name: "panicky",
	}, func(_ context.Context, event *otogi.Event) error {
		if event.ID == "boom" {
			panic("handler exploded")
		}
		handled <- event.ID
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("boom", otogi.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case err := <-reported:
		if !strings.Contains(err.Error(), "panic recovered: handler exploded") {
			t.Fatalf("reported error = %v, want recovered panic", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not reported")
	}

	if err := bus.Publish(context.Background(), newTestEvent("after", otogi.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case id := <-handled:
		if id != "after" {
			t.Fatalf("handled = %s, want after", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

// TestEventBusRejectsUnknownBackpressure verifies policy validation at subscribe time.
func TestEventBusRejectsUnknownBackpressure(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(BusDefaults{Buffer: 8, Workers: 1, HandlerTimeout: time.Second}, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{}, otogi.SubscriptionSpec{
		Name:         "weird",
		Backpressure: otogi.BackpressurePolicy("sometimes"),
	}, func(context.Context, *otogi.Event) error { return nil })
	if !errors.Is(err, otogi.ErrInvalidSubscription) {
		t.Fatalf("subscribe error = %v, want ErrInvalidSubscription", err)
	}
	if stats := bus.Stats(); len(stats) != 0 {
		t.Fatalf("stats = %+v, want no subscriptions", stats)
	}
}

// TestEventBusBlockingPublishHonorsContext verifies a full blocking queue gives up with the caller.
func TestEventBusBlockingPublishHonorsContext(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(BusDefaults{Buffer: 1, Workers: 1, HandlerTimeout: time.Second}, nil)
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		_ = bus.Close(context.Background())
	})

	started := make(chan struct{}, 1)
	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{}, otogi.SubscriptionSpec{
		Name:         "slow",
		Buffer:       1,
		Workers:      1,
		Backpressure: otogi.BackpressureBlock,
	}, func(context.Context, *otogi.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e1", otogi.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish e1 failed: %v", err)
	}
	<-started
	if err := bus.Publish(context.Background(), newTestEvent("e2", otogi.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish e2 failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = bus.Publish(ctx, newTestEvent("e3", otogi.EventKindMessageCreated))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("publish e3 error = %v, want deadline exceeded", err)
	}
}

// TestEventBusStatsCountOutcomes verifies handled, failed and dropped counters.
func TestEventBusStatsCountOutcomes(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 8)
	bus := NewEventBus(BusDefaults{Buffer: 1, Workers: 1, HandlerTimeout: time.Second}, func(_ context.Context, _ string, err error) {
		reported <- err
	})
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	_, err := bus.Subscribe(context.Background(), otogi.InterestSet{}, otogi.SubscriptionSpec{
		Name:    "counted",
		Buffer:  1,
		Workers: 1,
	}, func(_ context.Context, event *otogi.Event) error {
		if event.ID == "e1" {
			started <- struct{}{}
			<-release
			return errors.New("first fails")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for _, id := range []string{"e1", "e2", "e3"} {
		if id == "e2" {
			<-started
		}
		if err := bus.Publish(context.Background(), newTestEvent(id, otogi.EventKindMessageCreated)); err != nil {
			t.Fatalf("publish %s failed: %v", id, err)
		}
	}
	close(release)

	want := SubscriptionStats{Name: "counted", Handled: 1, Failed: 1, Dropped: 1}
	eventually(t, 2*time.Second, func() bool {
		stats := bus.Stats()
		return len(stats) == 1 && stats[0] == want
	})

	dropped := false
	for range 2 {
		select {
		case err := <-reported:
			dropped = dropped || errors.Is(err, otogi.ErrEventDropped)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for reported errors")
		}
	}
	if !dropped {
		t.Fatal("expected the dropped event to be reported")
	}
}

func newTestEvent(id string, kind otogi.EventKind) *otogi.Event {
	event := &otogi.Event{
		ID:         id,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Source:     otogi.EventSource{Platform: otogi.PlatformTelegram, ID: "telegram"},
		Conversation: otogi.Conversation{
			ID:   "chat-1",
			Type: otogi.ConversationTypeGroup,
		},
		Actor:   otogi.Actor{ID: "user-1"},
		Message: &otogi.Message{ID: "msg-1", Text: "hello"},
	}
	if kind == otogi.EventKindCommandReceived {
		event.Message.Text = "/pepe"
		event.Command = &otogi.CommandInvocation{
			Trigger:       otogi.CommandTriggerSlash,
			Name:          "pepe",
			Registered:    true,
			SourceEventID: id,
		}
	}

	return event
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
