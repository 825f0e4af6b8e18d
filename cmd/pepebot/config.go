package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pepebot/internal/driver/telegram"
	"pepebot/pkg/imgur"
	"pepebot/pkg/memeapi"
)

const (
	envConfigFile       = "PEPEBOT_CONFIG_FILE"
	envTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	envTelegramAppID    = "TELEGRAM_APP_ID"
	envTelegramAppHash  = "TELEGRAM_APP_HASH"
	envImgurClientID    = "IMGUR_CLIENT_ID"

	defaultConfigFilePath     = "config/pepebot.yaml"
	defaultAlbumID            = "SU4Qa"
	defaultHTTPTimeout        = 10 * time.Second
	defaultModuleHookTimeout  = 5 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultHandlerTimeout     = 15 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 4
	publishTimeoutSlack       = 2 * time.Second
)

type appConfig struct {
	logLevel slog.Level

	albumID        string
	galleryBaseURL string
	memeBaseURL    string
	httpTimeout    time.Duration

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	telegram      telegram.RuntimeConfig
	rawAppID      string
	imgurClientID string
}

type fileConfig struct {
	LogLevel    string             `yaml:"log_level"`
	HTTPTimeout string             `yaml:"http_timeout"`
	Gallery     fileGalleryConfig  `yaml:"gallery"`
	Meme        fileMemeConfig     `yaml:"meme"`
	Kernel      fileKernelConfig   `yaml:"kernel"`
	Telegram    fileTelegramConfig `yaml:"telegram"`
}

type fileGalleryConfig struct {
	AlbumID string `yaml:"album_id"`
	BaseURL string `yaml:"base_url"`
}

type fileMemeConfig struct {
	BaseURL string `yaml:"base_url"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `yaml:"module_hook_timeout"`
	ShutdownTimeout     string `yaml:"shutdown_timeout"`
	HandlerTimeout      string `yaml:"handler_timeout"`
	SubscriptionBuffer  *int   `yaml:"subscription_buffer"`
	SubscriptionWorkers *int   `yaml:"subscription_workers"`
}

type fileTelegramConfig struct {
	SessionFile    string `yaml:"session_file"`
	PublishTimeout string `yaml:"publish_timeout"`
	UpdateBuffer   *int   `yaml:"update_buffer"`
	AuthTimeout    string `yaml:"auth_timeout"`
}

// loadConfig reads the optional YAML file and the credential environment.
//
// Credentials are only collected here; requireTelegram and requireImgur
// validate the ones a command needs.
func loadConfig(explicitPath string) (appConfig, error) {
	cfg := defaultAppConfig()

	configFile, err := resolveConfigFilePath(explicitPath)
	if err != nil {
		return appConfig{}, err
	}
	if configFile != "" {
		if err := applyConfigFile(&cfg, configFile); err != nil {
			return appConfig{}, err
		}
	}

	cfg.telegram.BotToken = strings.TrimSpace(os.Getenv(envTelegramBotToken))
	cfg.telegram.AppHash = strings.TrimSpace(os.Getenv(envTelegramAppHash))
	cfg.rawAppID = strings.TrimSpace(os.Getenv(envTelegramAppID))
	cfg.imgurClientID = strings.TrimSpace(os.Getenv(envImgurClientID))

	if cfg.telegram.PublishTimeout <= 0 {
		// A full blocking queue frees a slot once some worker finishes, which
		// takes at most one handler run.
		cfg.telegram.PublishTimeout = max(cfg.handlerTimeout, cfg.httpTimeout) + publishTimeoutSlack
	}

	return cfg, nil
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		albumID:        defaultAlbumID,
		galleryBaseURL: imgur.DefaultBaseURL,
		memeBaseURL:    memeapi.DefaultBaseURL,
		httpTimeout:    defaultHTTPTimeout,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,
	}
}

// resolveConfigFilePath returns "" when no config file is configured or present.
func resolveConfigFilePath(explicitPath string) (string, error) {
	if path := strings.TrimSpace(explicitPath); path != "" {
		return path, nil
	}
	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		return path, nil
	}

	info, err := os.Stat(defaultConfigFilePath)
	switch {
	case err == nil && info.IsDir():
		return "", fmt.Errorf("config file %s is a directory", defaultConfigFilePath)
	case err == nil:
		return defaultConfigFilePath, nil
	case errors.Is(err, os.ErrNotExist):
		return "", nil
	default:
		return "", fmt.Errorf("stat config file %s: %w", defaultConfigFilePath, err)
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	defer file.Close()

	var parsed fileConfig
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&parsed); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := parsed.apply(cfg); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	return nil
}

func (parsed fileConfig) apply(cfg *appConfig) error {
	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	if albumID := strings.TrimSpace(parsed.Gallery.AlbumID); albumID != "" {
		cfg.albumID = albumID
	}
	if baseURL := strings.TrimSpace(parsed.Gallery.BaseURL); baseURL != "" {
		cfg.galleryBaseURL = baseURL
	}
	if baseURL := strings.TrimSpace(parsed.Meme.BaseURL); baseURL != "" {
		cfg.memeBaseURL = baseURL
	}

	durations := []struct {
		key    string
		raw    string
		target *time.Duration
	}{
		{key: "http_timeout", raw: parsed.HTTPTimeout, target: &cfg.httpTimeout},
		{key: "kernel.module_hook_timeout", raw: parsed.Kernel.ModuleHookTimeout, target: &cfg.moduleHookTimeout},
		{key: "kernel.shutdown_timeout", raw: parsed.Kernel.ShutdownTimeout, target: &cfg.shutdownTimeout},
		{key: "kernel.handler_timeout", raw: parsed.Kernel.HandlerTimeout, target: &cfg.handlerTimeout},
		{key: "telegram.publish_timeout", raw: parsed.Telegram.PublishTimeout, target: &cfg.telegram.PublishTimeout},
		{key: "telegram.auth_timeout", raw: parsed.Telegram.AuthTimeout, target: &cfg.telegram.AuthTimeout},
	}
	for _, duration := range durations {
		if err := parsePositiveDuration(duration.key, duration.raw, duration.target); err != nil {
			return err
		}
	}

	counts := []struct {
		key    string
		raw    *int
		target *int
	}{
		{key: "kernel.subscription_buffer", raw: parsed.Kernel.SubscriptionBuffer, target: &cfg.subscriptionBuffer},
		{key: "kernel.subscription_workers", raw: parsed.Kernel.SubscriptionWorkers, target: &cfg.subscriptionWorkers},
		{key: "telegram.update_buffer", raw: parsed.Telegram.UpdateBuffer, target: &cfg.telegram.UpdateBuffer},
	}
	for _, count := range counts {
		if count.raw == nil {
			continue
		}
		if *count.raw <= 0 {
			return fmt.Errorf("parse %s: must be > 0", count.key)
		}
		*count.target = *count.raw
	}

	if sessionFile := strings.TrimSpace(parsed.Telegram.SessionFile); sessionFile != "" {
		cfg.telegram.SessionFile = sessionFile
	}

	return nil
}

func parsePositiveDuration(key string, raw string, target *time.Duration) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	duration, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if duration <= 0 {
		return fmt.Errorf("parse %s: must be > 0", key)
	}
	*target = duration

	return nil
}

// requireTelegram validates the gateway credentials.
func (c *appConfig) requireTelegram() error {
	if c.telegram.BotToken == "" {
		return fmt.Errorf("%s is required", envTelegramBotToken)
	}
	if c.rawAppID == "" {
		return fmt.Errorf("%s is required", envTelegramAppID)
	}
	appID, err := strconv.Atoi(c.rawAppID)
	if err != nil {
		return fmt.Errorf("parse %s: %w", envTelegramAppID, err)
	}
	if appID <= 0 {
		return fmt.Errorf("parse %s: must be > 0", envTelegramAppID)
	}
	c.telegram.AppID = appID
	if c.telegram.AppHash == "" {
		return fmt.Errorf("%s is required", envTelegramAppHash)
	}

	return nil
}

// requireImgur validates the gallery credential.
func (c *appConfig) requireImgur() error {
	if c.imgurClientID == "" {
		return fmt.Errorf("%s is required", envImgurClientID)
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func newLogger(level slog.Level, output io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
}
