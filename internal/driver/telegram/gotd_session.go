package telegram

import (
	"context"
	"fmt"
)

// GotdSessionClient abstracts gotd/td session execution.
type GotdSessionClient interface {
	// Run starts the session and executes fn within the connected lifecycle.
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// GotdRawUpdateStream provides raw gotd updates from an active session.
type GotdRawUpdateStream interface {
	// Updates returns a channel of raw gotd updates bound to ctx lifetime.
	Updates(ctx context.Context) (<-chan any, error)
}

// GotdUpdateMapper maps raw gotd updates into adapter Update DTOs.
type GotdUpdateMapper interface {
	// Map converts a raw update into adapter DTO form.
	// The accepted flag allows skipping unsupported update classes.
	Map(ctx context.Context, raw any) (Update, bool, error)
}

// GotdBotSource wires a gotd bot session into UpdateSource.
type GotdBotSource struct {
	client     GotdSessionClient
	stream     GotdRawUpdateStream
	mapper     GotdUpdateMapper
	onMapError func(context.Context, error)
}

// GotdSourceOption mutates one gotd bot source.
type GotdSourceOption func(*GotdBotSource)

// WithMapErrorHandler receives updates the mapper failed on. They are skipped
// either way.
func WithMapErrorHandler(handler func(context.Context, error)) GotdSourceOption {
	return func(s *GotdBotSource) {
		if handler != nil {
			s.onMapError = handler
		}
	}
}

// NewGotdBotSource creates a source backed by a gotd bot session.
func NewGotdBotSource(
	client GotdSessionClient,
	stream GotdRawUpdateStream,
	mapper GotdUpdateMapper,
	options ...GotdSourceOption,
) (*GotdBotSource, error) {
	if client == nil {
		return nil, fmt.Errorf("new gotd bot source: nil client")
	}
	if stream == nil {
		return nil, fmt.Errorf("new gotd bot source: nil stream")
	}
	if mapper == nil {
		return nil, fmt.Errorf("new gotd bot source: nil mapper")
	}

	source := &GotdBotSource{
		client:     client,
		stream:     stream,
		mapper:     mapper,
		onMapError: func(context.Context, error) {},
	}
	for _, option := range options {
		option(source)
	}

	return source, nil
}

// Consume runs a gotd session and forwards mapped updates to the handler.
//
// Updates the mapper rejects are skipped silently. A mapper error or panic
// is reported and skips that update only; the session ends on cancellation,
// a closed stream, or a handler error.
func (s *GotdBotSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd bot updates: nil handler")
	}

	err := s.client.Run(ctx, func(runCtx context.Context) error {
		updates, err := s.stream.Updates(runCtx)
		if err != nil {
			return fmt.Errorf("get gotd updates stream: %w", err)
		}

		for {
			select {
			case <-runCtx.Done():
				return nil
			case rawUpdate, ok := <-updates:
				if !ok {
					return nil
				}

				mapped, accepted, mapErr := s.mapUpdateSafely(runCtx, rawUpdate)
				if mapErr != nil {
					if runCtx.Err() != nil {
						return nil
					}
					s.onMapError(runCtx, mapErr)
					continue
				}
				if !accepted {
					continue
				}
				if err := handler(runCtx, mapped); err != nil {
					return fmt.Errorf("consume gotd update %s: %w", mapped.Type, err)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("consume gotd bot updates: %w", err)
	}

	return nil
}

// mapUpdateSafely isolates mapper panics so a bad mapping path cannot crash the process.
func (s *GotdBotSource) mapUpdateSafely(ctx context.Context, rawUpdate any) (mapped Update, accepted bool, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("map gotd update panic: %v", recovered)
	}()

	mapped, accepted, err = s.mapper.Map(ctx, rawUpdate)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd raw update: %w", err)
	}

	return mapped, accepted, nil
}
