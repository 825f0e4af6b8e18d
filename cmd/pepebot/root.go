package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "pepebot",
		Short: "Telegram bot that replies to image commands with pepe and meme links",
		Long: `pepebot connects to Telegram as a bot account and answers /pepe, !pepe
and /meme commands.

/pepe picks a random image from an Imgur album that is fetched once at startup.
/meme asks the meme API for a random post, optionally from one subreddit.

Credentials are read from the environment or a .env file in the working
directory: TELEGRAM_BOT_TOKEN, TELEGRAM_APP_ID, TELEGRAM_APP_HASH and
IMGUR_CLIENT_ID.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(
		&configPath,
		"config",
		"",
		"path to YAML config file (default $"+envConfigFile+" or "+defaultConfigFilePath+" when present)",
	)
	cmd.AddCommand(newRunCmd(&configPath), newGalleryCmd(&configPath))

	return cmd
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch the gallery and start the bot",
		Example: `  # Run with credentials from .env
  pepebot run

  # Run with an explicit config file
  pepebot run --config config/pepebot.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.requireTelegram(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.requireImgur(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			return runBot(cmd.Context(), cfg, newLogger(cfg.logLevel, cmd.OutOrStdout()))
		},
	}
}

func newGalleryCmd(configPath *string) *cobra.Command {
	var albumID string

	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "Fetch the gallery album once and print its links",
		Example: `  # Show the configured album
  pepebot gallery

  # Show another album
  pepebot gallery --album SU4Qa`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.requireImgur(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if albumID != "" {
				cfg.albumID = albumID
			}

			return printGallery(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&albumID, "album", "", "album id to fetch instead of gallery.album_id")

	return cmd
}
