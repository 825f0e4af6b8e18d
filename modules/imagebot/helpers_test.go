package imagebot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pepebot/pkg/gallery"
	"pepebot/pkg/memeapi"
	"pepebot/pkg/otogi"
)

// newInvocation derives an invocation the way the kernel does for text.
func newInvocation(t *testing.T, text string) *otogi.CommandInvocation {
	t.Helper()

	source := newMessageEvent("event-1", "msg-1", text)
	candidate, matched, err := otogi.ParseCommandCandidate(text)
	if err != nil || !matched {
		t.Fatalf("parse %q: matched=%v err=%v", text, matched, err)
	}

	for _, spec := range commandSpecs() {
		if spec.Trigger != candidate.Trigger || spec.Name != candidate.Name {
			continue
		}
		invocation, err := otogi.BindCommand(candidate, spec, source)
		if err != nil {
			t.Fatalf("bind %q: %v", text, err)
		}
		return &invocation
	}

	invocation, err := otogi.UnregisteredInvocation(candidate, source)
	if err != nil {
		t.Fatalf("unregistered invocation %q: %v", text, err)
	}

	return &invocation
}

func newMessageEvent(eventID string, messageID string, text string) *otogi.Event {
	return &otogi.Event{
		ID:         eventID,
		Kind:       otogi.EventKindMessageCreated,
		OccurredAt: time.Unix(1, 0).UTC(),
		Source: otogi.EventSource{
			Platform: otogi.PlatformTelegram,
			ID:       "tg-main",
		},
		Conversation: otogi.Conversation{
			ID:   "42",
			Type: otogi.ConversationTypeGroup,
		},
		Actor: otogi.Actor{
			ID:       "7",
			Username: "frog",
		},
		Message: &otogi.Message{
			ID:   messageID,
			Text: text,
		},
	}
}

func newCommandEvent(t *testing.T, text string) *otogi.Event {
	t.Helper()

	event := newMessageEvent("event-1#command", "msg-1", text)
	event.Kind = otogi.EventKindCommandReceived
	event.Command = newInvocation(t, text)

	return event
}

func mustCollection(t *testing.T, links ...string) gallery.Collection {
	t.Helper()

	entries := make([]gallery.Entry, 0, len(links))
	for index, link := range links {
		entries = append(entries, gallery.Entry{ID: fmt.Sprintf("img-%d", index), Link: link})
	}
	collection, err := gallery.NewCollection("SU4Qa", "pepes", len(entries), entries)
	if err != nil {
		t.Fatalf("new collection: %v", err)
	}

	return collection
}

func readyCache(t *testing.T, links ...string) *gallery.Cache {
	t.Helper()

	cache := gallery.NewCache()
	if err := cache.Initialize(mustCollection(t, links...)); err != nil {
		t.Fatalf("initialize cache: %v", err)
	}

	return cache
}

type stubQuerier struct {
	meme memeapi.Meme
	err  error

	mu     sync.Mutex
	topics []string
}

func (s *stubQuerier) Query(_ context.Context, topic string) (memeapi.Meme, error) {
	s.mu.Lock()
	s.topics = append(s.topics, topic)
	s.mu.Unlock()

	return s.meme, s.err
}

type emptyStore struct{}

func (emptyStore) Get() (gallery.Collection, error) {
	return gallery.Collection{}, nil
}

func (emptyStore) Ready() bool {
	return true
}

type captureDispatcher struct {
	sendErr error

	mu       sync.Mutex
	requests []otogi.SendMessageRequest
}

func (d *captureDispatcher) SendMessage(
	_ context.Context,
	request otogi.SendMessageRequest,
) (*otogi.OutboundMessage, error) {
	d.mu.Lock()
	d.requests = append(d.requests, request)
	d.mu.Unlock()
	if d.sendErr != nil {
		return nil, d.sendErr
	}

	return &otogi.OutboundMessage{ID: "sent-1", Target: request.Target}, nil
}

func (d *captureDispatcher) snapshot() []otogi.SendMessageRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]otogi.SendMessageRequest(nil), d.requests...)
}

type moduleRuntimeStub struct {
	registry otogi.ServiceRegistry
}

func (s moduleRuntimeStub) Services() otogi.ServiceRegistry {
	return s.registry
}

func (moduleRuntimeStub) Subscribe(
	context.Context,
	otogi.InterestSet,
	otogi.SubscriptionSpec,
	otogi.EventHandler,
) (otogi.Subscription, error) {
	return nil, nil
}

type serviceRegistryStub struct {
	values map[string]any
}

func (s serviceRegistryStub) Register(string, any) error {
	return nil
}

func (s serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, otogi.ErrServiceNotFound
	}

	return value, nil
}

type loggedRecord struct {
	level   slog.Level
	message string
	attrs   map[string]string
}

type logRecorder struct {
	mu      sync.Mutex
	records []loggedRecord
}

func (r *logRecorder) logger() *slog.Logger {
	return slog.New(&recordingHandler{recorder: r})
}

func (r *logRecorder) find(level slog.Level, message string) (loggedRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, record := range r.records {
		if record.level == level && record.message == message {
			return record, true
		}
	}

	return loggedRecord{}, false
}

type recordingHandler struct {
	recorder *logRecorder
	attrs    []slog.Attr
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]string, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		attrs[attr.Key] = attr.Value.String()
	}
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.String()
		return true
	})

	h.recorder.mu.Lock()
	h.recorder.records = append(h.recorder.records, loggedRecord{
		level:   record.Level,
		message: record.Message,
		attrs:   attrs,
	})
	h.recorder.mu.Unlock()

	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{
		recorder: h.recorder,
		attrs:    append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *recordingHandler) WithGroup(string) slog.Handler {
	return h
}
