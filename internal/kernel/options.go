package kernel

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultModuleHookTimeout  = 5 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 4
	defaultHandlerTimeout     = 15 * time.Second
)

// AsyncErrorFunc receives failures raised away from the caller, such as
// handler errors on subscription workers or dropped events.
type AsyncErrorFunc func(ctx context.Context, scope string, err error)

// BusDefaults are the queue settings a subscription inherits when its spec
// leaves them unset.
type BusDefaults struct {
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
}

type config struct {
	hookTimeout     time.Duration
	shutdownTimeout time.Duration
	bus             BusDefaults
	logger          *slog.Logger
	onAsyncError    AsyncErrorFunc
}

// Option mutates kernel construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		hookTimeout:     defaultModuleHookTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		bus: BusDefaults{
			Buffer:         defaultSubscriptionBuffer,
			Workers:        defaultSubscriptionWorker,
			HandlerTimeout: defaultHandlerTimeout,
		},
		logger: slog.Default(),
	}
}

// resolveConfig applies options over the defaults. Without an explicit
// handler, async errors go to the configured logger.
func resolveConfig(options []Option) config {
	cfg := defaultConfig()
	for _, option := range options {
		if option != nil {
			option(&cfg)
		}
	}
	if cfg.onAsyncError == nil {
		cfg.onAsyncError = logAsyncError(cfg.logger)
	}

	return cfg
}

func logAsyncError(logger *slog.Logger) AsyncErrorFunc {
	return func(ctx context.Context, scope string, err error) {
		logger.ErrorContext(ctx, "kernel async error", "scope", scope, "error", err)
	}
}

// positive returns an option that stores value through field when value > 0.
func positive[T int | time.Duration](value T, field func(*config) *T) Option {
	return func(cfg *config) {
		if value > 0 {
			*field(cfg) = value
		}
	}
}

// WithModuleHookTimeout bounds each OnRegister, OnStart and OnShutdown call.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config) *time.Duration { return &cfg.hookTimeout })
}

// WithShutdownTimeout bounds the whole shutdown sequence.
func WithShutdownTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config) *time.Duration { return &cfg.shutdownTimeout })
}

// WithDefaultSubscriptionBuffer sets the queue depth for subscriptions that do not choose one.
func WithDefaultSubscriptionBuffer(size int) Option {
	return positive(size, func(cfg *config) *int { return &cfg.bus.Buffer })
}

// WithDefaultSubscriptionWorkers sets the worker count for subscriptions that do not choose one.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return positive(workers, func(cfg *config) *int { return &cfg.bus.Workers })
}

// WithDefaultHandlerTimeout sets the per-event handler deadline for subscriptions that do not choose one.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config) *time.Duration { return &cfg.bus.HandlerTimeout })
}

// WithLogger sets the kernel logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithAsyncErrorHandler replaces logging as the sink for async errors.
func WithAsyncErrorHandler(handler AsyncErrorFunc) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}
