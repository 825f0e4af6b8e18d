package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"pepebot/internal/driver/telegram"
	"pepebot/internal/kernel"
	"pepebot/modules/help"
	"pepebot/modules/imagebot"
	"pepebot/pkg/gallery"
	"pepebot/pkg/imgur"
	"pepebot/pkg/memeapi"
	"pepebot/pkg/otogi"
)

// application is one fully wired bot runtime that has not started yet.
type application struct {
	kernel *kernel.Kernel
	cache  *gallery.Cache
	source otogi.EventSource
}

func runBot(ctx context.Context, cfg appConfig, logger *slog.Logger) error {
	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "pepebot starting", "driver", app.source.ID)
	if err := app.kernel.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}
	logger.InfoContext(ctx, "pepebot stopped")

	return nil
}

// newApplication fetches the gallery, fills the cache and assembles the kernel.
//
// The cache is initialized before any module or driver is registered, so no
// command can be accepted against an empty cache.
func newApplication(ctx context.Context, cfg appConfig, logger *slog.Logger) (*application, error) {
	cache, err := loadGalleryCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	kernelRuntime := buildKernelRuntime(logger, cfg)
	if err := kernelRuntime.RegisterService(otogi.ServiceLogger, logger); err != nil {
		return nil, fmt.Errorf("register logger service: %w", err)
	}

	catalog, err := otogi.ResolveAs[otogi.CommandCatalog](kernelRuntime.Services(), otogi.ServiceCommandCatalog)
	if err != nil {
		return nil, fmt.Errorf("resolve command catalog: %w", err)
	}
	source, driver, sinkDispatcher, err := telegram.BuildRuntime(cfg.telegram, catalog, logger)
	if err != nil {
		return nil, fmt.Errorf("build telegram runtime: %w", err)
	}
	if err := kernelRuntime.RegisterService(otogi.ServiceSinkDispatcher, sinkDispatcher); err != nil {
		return nil, fmt.Errorf("register sink dispatcher service: %w", err)
	}

	memeClient := memeapi.NewClient(
		memeapi.WithBaseURL(cfg.memeBaseURL),
		memeapi.WithTimeout(cfg.httpTimeout),
	)
	imageModule, err := imagebot.New(cache, memeClient)
	if err != nil {
		return nil, fmt.Errorf("new imagebot module: %w", err)
	}
	if err := kernelRuntime.RegisterModule(ctx, imageModule); err != nil {
		return nil, fmt.Errorf("register imagebot module: %w", err)
	}
	if err := kernelRuntime.RegisterModule(ctx, help.New()); err != nil {
		return nil, fmt.Errorf("register help module: %w", err)
	}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		return nil, fmt.Errorf("register driver %s: %w", driver.Name(), err)
	}

	return &application{
		kernel: kernelRuntime,
		cache:  cache,
		source: source,
	}, nil
}

func loadGalleryCache(ctx context.Context, cfg appConfig, logger *slog.Logger) (*gallery.Cache, error) {
	collection, err := fetchGallery(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cache := gallery.NewCache()
	if err := cache.Initialize(collection); err != nil {
		return nil, fmt.Errorf("initialize gallery cache: %w", err)
	}
	logger.InfoContext(ctx, "gallery cache ready",
		"album_id", collection.ID(),
		"title", collection.Title(),
		"size", collection.Count(),
	)

	return cache, nil
}

func fetchGallery(ctx context.Context, cfg appConfig) (gallery.Collection, error) {
	client, err := imgur.NewClient(
		cfg.imgurClientID,
		imgur.WithBaseURL(cfg.galleryBaseURL),
		imgur.WithTimeout(cfg.httpTimeout),
	)
	if err != nil {
		return gallery.Collection{}, fmt.Errorf("new imgur client: %w", err)
	}

	collection, err := client.FetchGallery(ctx, cfg.albumID)
	if err != nil {
		return gallery.Collection{}, fmt.Errorf("fetch gallery %s: %w", cfg.albumID, err)
	}

	return collection, nil
}

func printGallery(ctx context.Context, cfg appConfig, output io.Writer) error {
	collection, err := fetchGallery(ctx, cfg)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(output, "album %s %q: %d images\n", collection.ID(), collection.Title(), collection.Count()); err != nil {
		return fmt.Errorf("print gallery: %w", err)
	}
	for _, link := range collection.Links() {
		if _, err := fmt.Fprintln(output, link); err != nil {
			return fmt.Errorf("print gallery: %w", err)
		}
	}

	return nil
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
	)
}
