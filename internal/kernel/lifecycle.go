package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run starts every module, then every driver, and blocks until ctx is done or
// the drivers stop. A driver error ends the run and is returned; cancellation
// is a clean exit. Shutdown always runs before Run returns.
//
// No driver starts until every OnStart succeeded, so modules never see events
// before they are ready.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return errors.New("kernel run: already running")
	}
	defer k.running.Store(false)

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdownAll(ctx))
	}

	runErr := k.runDrivers(ctx)

	return errors.Join(runErr, k.shutdownAll(ctx))
}

func (k *Kernel) startModules(ctx context.Context) error {
	records := k.snapshotModules()

	names := make([]string, 0, len(records))
	for _, record := range records {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
		err := guard("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
		names = append(names, record.name)
	}

	k.cfg.logger.InfoContext(ctx, "kernel modules started", "modules", names)

	return nil
}

// runDrivers runs all drivers in one errgroup so the first fatal error
// cancels the rest. After ctx ends it waits up to the shutdown timeout for the
// drivers to return.
func (k *Kernel) runDrivers(ctx context.Context) error {
	sink := k.newDriverEventSink()
	group, groupCtx := errgroup.WithContext(ctx)
	for _, driver := range k.snapshotDrivers() {
		name := driver.Name()
		group.Go(func() error {
			err := guard("driver "+name+" Start", func() error {
				return driver.Start(groupCtx, sink)
			})
			if err == nil || isContextCancellation(err) {
				return nil
			}

			return fmt.Errorf("run driver %s: %w", name, err)
		})
	}

	finished := make(chan error, 1)
	go func() {
		finished <- group.Wait()
	}()

	select {
	case err := <-finished:
		return err
	case <-ctx.Done():
	}

	select {
	case err := <-finished:
		if err != nil {
			k.cfg.onAsyncError(ctx, "kernel stop drivers", err)
		}
	case <-time.After(k.cfg.shutdownTimeout):
		k.cfg.onAsyncError(ctx, "kernel wait drivers", context.DeadlineExceeded)
	}

	return nil
}

// shutdownAll stops drivers, then modules, then the bus, within one shutdown
// window that outlives cancellation of ctx.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	k.logSubscriptionStats(shutdownCtx)

	err := errors.Join(
		k.shutdownDrivers(shutdownCtx),
		k.shutdownModules(shutdownCtx),
		k.bus.Close(shutdownCtx),
	)
	if err != nil {
		return fmt.Errorf("kernel shutdown: %w", err)
	}

	return nil
}

// shutdownDrivers calls Shutdown in reverse registration order.
func (k *Kernel) shutdownDrivers(ctx context.Context) error {
	drivers := k.snapshotDrivers()

	var err error
	for idx := len(drivers) - 1; idx >= 0; idx-- {
		driver := drivers[idx]
		name := driver.Name()
		if shutdownErr := guard("driver "+name+" Shutdown", func() error {
			return driver.Shutdown(ctx)
		}); shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown driver %s: %w", name, shutdownErr))
		}
	}

	return err
}

// shutdownModules closes subscriptions and calls OnShutdown in reverse
// registration order.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	records := k.snapshotModules()

	var err error
	for idx := len(records) - 1; idx >= 0; idx-- {
		record := records[idx]
		if closeErr := record.closeSubscriptions(ctx); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, closeErr))
		}

		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
		hookErr := guard("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		cancel()
		if hookErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown module %s: %w", record.name, hookErr))
		}
	}

	return err
}

func (k *Kernel) logSubscriptionStats(ctx context.Context) {
	for _, stats := range k.bus.Stats() {
		k.cfg.logger.InfoContext(ctx, "subscription stats",
			"subscription", stats.Name,
			"handled", stats.Handled,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}
}

// guard runs fn, tags its error with scope, and turns a panic into an error.
func guard(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: panic recovered: %v", scope, recovered)
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
