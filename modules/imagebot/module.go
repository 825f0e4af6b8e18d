// Package imagebot answers image commands with a link from the cached gallery
// or from one live meme query.
package imagebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pepebot/pkg/gallery"
	"pepebot/pkg/otogi"
)

// Module dispatches /pepe, !pepe and /meme commands.
//
// Handlers run on several workers at once and share only the read-only cache.
type Module struct {
	store   CollectionStore
	querier LiveQuerier
	rng     gallery.RandomSource

	logger     *slog.Logger
	dispatcher otogi.SinkDispatcher
}

// Option mutates one imagebot module construction input.
type Option func(*Module)

// WithRandomSource replaces the process-wide random source used for selection.
func WithRandomSource(rng gallery.RandomSource) Option {
	return func(m *Module) {
		if rng != nil {
			m.rng = rng
		}
	}
}

// New creates an imagebot module over a gallery cache and a live query client.
func New(store CollectionStore, querier LiveQuerier, options ...Option) (*Module, error) {
	if store == nil {
		return nil, fmt.Errorf("new imagebot module: nil collection store")
	}
	if querier == nil {
		return nil, fmt.Errorf("new imagebot module: nil live querier")
	}

	module := &Module{
		store:   store,
		querier: querier,
		rng:     gallery.NewSource(),
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(module)
	}

	return module, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "imagebot"
}

// Spec declares the image commands and the command handler.
//
// The interest carries no command names so unregistered slash commands also
// reach the handler and get the unmatched reply.
func (m *Module) Spec() otogi.ModuleSpec {
	return otogi.ModuleSpec{
		Handlers: []otogi.ModuleHandler{
			{
				Capability: otogi.Capability{
					Name:        "image-command-handler",
					Description: "replies to image commands with a gallery or live meme link",
					Interest: otogi.InterestSet{
						Kinds:          []otogi.EventKind{otogi.EventKindCommandReceived},
						RequireMessage: true,
						RequireCommand: true,
					},
					RequiredServices: []string{otogi.ServiceSinkDispatcher},
				},
				Subscription: otogi.SubscriptionSpec{
					Name:         "imagebot-commands",
					Backpressure: otogi.BackpressureBlock,
				},
				Handler: m.handleCommand,
			},
		},
		Commands: commandSpecs(),
	}
}

// OnRegister resolves the logger and the outbound dispatcher.
func (m *Module) OnRegister(_ context.Context, runtime otogi.ModuleRuntime) error {
	logger, err := otogi.ResolveAs[*slog.Logger](runtime.Services(), otogi.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, otogi.ErrServiceNotFound):
	default:
		return fmt.Errorf("imagebot resolve logger: %w", err)
	}

	dispatcher, err := otogi.ResolveAs[otogi.SinkDispatcher](
		runtime.Services(),
		otogi.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("imagebot resolve sink dispatcher: %w", err)
	}
	m.dispatcher = dispatcher

	return nil
}

// OnStart refuses to start before the gallery cache is initialized.
func (m *Module) OnStart(ctx context.Context) error {
	if !m.store.Ready() {
		return fmt.Errorf("imagebot start: %w", gallery.ErrCacheNotReady)
	}

	collection, err := m.store.Get()
	if err != nil {
		return fmt.Errorf("imagebot start: %w", err)
	}
	m.logger.InfoContext(ctx, "imagebot ready",
		"collection_id", collection.ID(),
		"collection_size", collection.Count(),
	)

	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	if event.Kind != otogi.EventKindCommandReceived {
		return nil
	}

	command := ParseCommand(event.Command)
	if command.Kind == KindUnrecognized && event.Command.Registered {
		// Owned by another module, or bang text that is not the exact trigger.
		return nil
	}
	reply := m.Dispatch(ctx, command)

	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		m.logger.ErrorContext(ctx, "imagebot derive reply target failed", "event_id", event.ID, "error", err)
		return nil
	}
	_, err = m.dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:           target,
		Text:             reply,
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		attrs := []any{
			"event_id", event.ID,
			"conversation_id", event.Conversation.ID,
			"error", err,
		}
		if retryAfter, limited := otogi.AsOutboundRateLimit(err); limited {
			attrs = append(attrs, "retry_after", retryAfter)
		}
		m.logger.ErrorContext(ctx, "imagebot send reply failed", attrs...)
	}

	return nil
}

var (
	_ otogi.Module          = (*Module)(nil)
	_ otogi.ModuleRegistrar = (*Module)(nil)
)
