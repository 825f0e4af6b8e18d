package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pepebot/pkg/otogi"

	"github.com/gofrs/flock"
	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

const (
	defaultRuntimeSessionFile  = ".cache/telegram/session.json"
	defaultRuntimePublishDelay = 2 * time.Second
	defaultRuntimeAuthTimeout  = time.Minute
	defaultRuntimeUpdateBuffer = 256
)

// ErrSessionLocked reports that another process holds the session file.
var ErrSessionLocked = errors.New("telegram: session file locked by another process")

// RuntimeConfig configures one Telegram bot runtime.
type RuntimeConfig struct {
	// Name identifies the driver instance; defaults to DriverType.
	Name string
	// AppID is the MTProto application identifier.
	AppID int
	// AppHash is the MTProto application hash paired with AppID.
	AppHash string
	// BotToken is the bot account credential.
	BotToken string
	// SessionFile stores the MTProto session between runs.
	SessionFile string
	// PublishTimeout bounds event publication and each outbound RPC.
	PublishTimeout time.Duration
	// UpdateBuffer sizes the raw update channel.
	UpdateBuffer int
	// AuthTimeout bounds the login exchange.
	AuthTimeout time.Duration
}

// withDefaults fills unset optional fields and validates required ones.
func (c RuntimeConfig) withDefaults() (RuntimeConfig, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.AppHash = strings.TrimSpace(c.AppHash)
	c.BotToken = strings.TrimSpace(c.BotToken)
	c.SessionFile = strings.TrimSpace(c.SessionFile)

	if c.Name == "" {
		c.Name = DriverType
	}
	if c.SessionFile == "" {
		c.SessionFile = defaultRuntimeSessionFile
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultRuntimePublishDelay
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = defaultRuntimeUpdateBuffer
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultRuntimeAuthTimeout
	}

	if c.AppID <= 0 {
		return RuntimeConfig{}, fmt.Errorf("app_id must be > 0")
	}
	if c.AppHash == "" {
		return RuntimeConfig{}, fmt.Errorf("app_hash is required")
	}
	if c.BotToken == "" {
		return RuntimeConfig{}, fmt.Errorf("bot_token is required")
	}

	return c, nil
}

// BuildRuntime builds one Telegram bot runtime.
//
// The returned driver logs in with the bot token when started, publishes the
// slash commands found in catalog as the bot command menu, and then streams
// new messages. The sink dispatcher replies into conversations the driver has
// seen.
func BuildRuntime(
	cfg RuntimeConfig,
	catalog otogi.CommandCatalog,
	logger *slog.Logger,
) (otogi.EventSource, otogi.Driver, otogi.SinkDispatcher, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	updateChannel, err := NewGotdUpdateChannel(cfg.UpdateBuffer)
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("new gotd update channel: %w", err)
	}

	sessionStorage, err := newGotdSessionStorage(cfg.SessionFile)
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  updateChannel,
		SessionStorage: sessionStorage,
	})

	sink := sinkRef(cfg.Name)
	peers := NewPeerCache()
	account := &accountHandle{}
	source, err := NewGotdBotSource(
		gotdBotSession{
			client:   client,
			lockPath: sessionStorage.Path + ".lock",
			authenticate: func(ctx context.Context) error {
				return authenticateBot(ctx, logger, client.Auth(), cfg)
			},
			onReady: func(ctx context.Context) error {
				return announceReady(ctx, logger, client, catalog, sink, account)
			},
		},
		updateChannel,
		NewMessageMapper(peers),
		WithMapErrorHandler(func(ctx context.Context, err error) {
			logger.WarnContext(ctx, "telegram update skipped", "driver", cfg.Name, "error", err)
		}),
	)
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("new gotd bot source: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithName(cfg.Name),
		WithPublishTimeout(cfg.PublishTimeout),
		WithAccount(account.get),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.WarnContext(ctx, "telegram driver update skipped", "driver", cfg.Name, "error", err)
		}),
	)
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("new telegram driver: %w", err)
	}

	dispatcher, err := NewOutboundDispatcher(
		client,
		peers,
		WithOutboundTimeout(cfg.PublishTimeout),
		WithOutboundLogger(logger),
		WithSinkRef(sink),
	)
	if err != nil {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("new telegram sink dispatcher: %w", err)
	}

	return otogi.EventSource{
		Platform: DriverPlatform,
		ID:       cfg.Name,
	}, driver, dispatcher, nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

// lockSessionFile takes the exclusive lock guarding one session file.
//
// Two processes sharing a session would race on its auth key and update state.
func lockSessionFile(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock session file %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrSessionLocked, path)
	}

	return lock, nil
}

type gotdBotSession struct {
	client       *gotdtelegram.Client
	lockPath     string
	authenticate func(ctx context.Context) error
	onReady      func(ctx context.Context) error
}

// Run holds the session lock, logs in and announces readiness before invoking fn.
func (s gotdBotSession) Run(ctx context.Context, fn func(runCtx context.Context) error) (err error) {
	if s.client == nil {
		return fmt.Errorf("run gotd bot session: nil client")
	}
	if s.authenticate == nil {
		return fmt.Errorf("run gotd bot session: nil authenticate callback")
	}
	if fn == nil {
		return fmt.Errorf("run gotd bot session: nil run callback")
	}

	lock, err := lockSessionFile(s.lockPath)
	if err != nil {
		return fmt.Errorf("run gotd bot session: %w", err)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("unlock session file: %w", unlockErr))
		}
	}()

	if err := s.client.Run(ctx, func(runCtx context.Context) error {
		if err := s.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		if s.onReady != nil {
			if err := s.onReady(runCtx); err != nil {
				return fmt.Errorf("gotd session ready: %w", err)
			}
		}
		if err := fn(runCtx); err != nil {
			return fmt.Errorf("run gotd client callback: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("run gotd bot session: %w", err)
	}

	return nil
}

// botAuthenticator is the subset of the gotd auth client used for bot login.
type botAuthenticator interface {
	Status(ctx context.Context) (*auth.Status, error)
	Bot(ctx context.Context, token string) (*tg.AuthAuthorization, error)
}

// authenticateBot restores a stored session or logs in with the bot token.
func authenticateBot(
	ctx context.Context,
	logger *slog.Logger,
	authClient botAuthenticator,
	cfg RuntimeConfig,
) error {
	if authClient == nil {
		return fmt.Errorf("authenticate bot: nil auth client")
	}

	authCtx, cancel := context.WithTimeout(ctx, cfg.AuthTimeout)
	defer cancel()

	status, err := authClient.Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status != nil && status.Authorized {
		logger.InfoContext(ctx, "telegram session restored from local storage", "session_file", cfg.SessionFile)
		return nil
	}

	if _, err := authClient.Bot(authCtx, cfg.BotToken); err != nil {
		return fmt.Errorf("authenticate bot: %w", err)
	}
	logger.InfoContext(ctx, "telegram authorized with bot token", "session_file", cfg.SessionFile)

	return nil
}

// announceReady records the bot handle, publishes the command menu and logs
// the connected account.
//
// A menu publication failure is logged; the bot still answers typed commands.
func announceReady(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	catalog otogi.CommandCatalog,
	sink otogi.EventSink,
	account *accountHandle,
) error {
	self, err := client.Self(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot account: %w", err)
	}
	account.set(self.Username)

	commands, err := publishCommandMenu(ctx, client.API(), catalog, sink)
	if err != nil {
		logger.WarnContext(ctx, "telegram command menu not published", "error", err)
	}

	logger.InfoContext(ctx,
		"telegram bot ready",
		"bot_id", self.ID,
		"username", self.Username,
		"commands", commands,
	)

	return nil
}
