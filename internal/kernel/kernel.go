package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"pepebot/pkg/otogi"
)

// Kernel owns the event bus, the service registry, and the lifecycle of
// registered modules and drivers.
type Kernel struct {
	cfg      config
	bus      *EventBus
	services *ServiceRegistry

	mu       sync.RWMutex
	modules  []*moduleRecord
	drivers  []otogi.Driver
	commands map[string]commandRegistration

	running atomic.Bool
}

// New creates a kernel and registers its command catalog service.
func New(options ...Option) *Kernel {
	cfg := resolveConfig(options)

	k := &Kernel{
		cfg:      cfg,
		bus:      NewEventBus(cfg.bus, cfg.onAsyncError),
		services: NewServiceRegistry(),
		commands: make(map[string]commandRegistration),
	}
	if err := k.services.Register(otogi.ServiceCommandCatalog, &kernelCommandCatalog{kernel: k}); err != nil {
		cfg.onAsyncError(context.Background(), "register command catalog service", err)
	}

	return k
}

// EventBus exposes the kernel event bus to integration code.
func (k *Kernel) EventBus() otogi.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() otogi.ServiceRegistry {
	return k.services
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule validates module's spec, claims its commands, runs
// OnRegister and subscribes its declared handlers. Any failure undoes the
// partial registration.
func (k *Kernel) RegisterModule(ctx context.Context, module otogi.Module) error {
	if module == nil {
		return errors.New("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return errors.New("register module: empty module name")
	}

	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	record := &moduleRecord{
		name:         name,
		module:       module,
		capabilities: spec.Capabilities(),
	}
	if err := k.checkRequiredServices(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	if err := k.addModule(record); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	if err := k.bindModule(ctx, record, spec); err != nil {
		k.rollbackModule(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	return nil
}

// RegisterDriver adds a platform driver. Drivers start in registration order.
func (k *Kernel) RegisterDriver(driver otogi.Driver) error {
	if driver == nil {
		return errors.New("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return errors.New("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.ContainsFunc(k.drivers, func(existing otogi.Driver) bool { return existing.Name() == name }) {
		return fmt.Errorf("register driver %s: %w", name, otogi.ErrDriverAlreadyRegistered)
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

func (k *Kernel) addModule(record *moduleRecord) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.ContainsFunc(k.modules, func(existing *moduleRecord) bool { return existing.name == record.name }) {
		return otogi.ErrModuleAlreadyRegistered
	}
	k.modules = append(k.modules, record)

	return nil
}

// bindModule performs the registration steps that can fail after the module
// record is visible.
func (k *Kernel) bindModule(ctx context.Context, record *moduleRecord, spec otogi.ModuleSpec) error {
	if err := k.registerModuleCommands(record.name, spec.Commands); err != nil {
		return err
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
	defer cancel()

	runtime := &moduleRuntime{
		moduleName: record.name,
		services:   k.services,
		bus:        k.bus,
		record:     record,
	}
	if registrar, ok := record.module.(otogi.ModuleRegistrar); ok {
		err := guard("module "+record.name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		})
		if err != nil {
			return err
		}
	}

	for idx, declared := range spec.Handlers {
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-handler-%d", record.name, idx+1)
		}
		if _, err := runtime.Subscribe(hookCtx, declared.Capability.Interest, subscription, declared.Handler); err != nil {
			return fmt.Errorf("register handler %s for capability %s: %w", subscription.Name, declared.Capability.Name, err)
		}
	}

	return nil
}

// rollbackModule closes whatever the module subscribed and forgets it.
func (k *Kernel) rollbackModule(ctx context.Context, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.hookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback module "+record.name, err)
	}
	k.unregisterModuleCommands(record.name)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.modules = slices.DeleteFunc(k.modules, func(existing *moduleRecord) bool { return existing == record })
}

func (k *Kernel) checkRequiredServices(capabilities []otogi.Capability) error {
	for _, capability := range capabilities {
		for _, serviceName := range capability.RequiredServices {
			if _, err := k.services.Resolve(serviceName); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, serviceName, err)
			}
		}
	}

	return nil
}

func (k *Kernel) snapshotModules() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.modules)
}

func (k *Kernel) snapshotDrivers() []otogi.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.drivers)
}

// validateModuleSpec rejects handler declarations with missing or duplicate
// capability names, nil handlers, or duplicate subscription names.
func validateModuleSpec(spec otogi.ModuleSpec) error {
	capabilities := make(map[string]struct{}, len(spec.Handlers))
	subscriptions := make(map[string]struct{}, len(spec.Handlers))

	for idx, declared := range spec.Handlers {
		capabilityName := declared.Capability.Name
		switch {
		case capabilityName == "":
			return fmt.Errorf("module handler %d: empty capability name", idx)
		case declared.Handler == nil:
			return fmt.Errorf("module handler %s: nil handler", capabilityName)
		}
		if _, dup := capabilities[capabilityName]; dup {
			return fmt.Errorf("module handler %d: duplicate capability name %s", idx, capabilityName)
		}
		capabilities[capabilityName] = struct{}{}

		subscriptionName := declared.Subscription.Name
		if subscriptionName == "" {
			continue
		}
		if _, dup := subscriptions[subscriptionName]; dup {
			return fmt.Errorf("module handler %s: duplicate subscription name %s", capabilityName, subscriptionName)
		}
		subscriptions[subscriptionName] = struct{}{}
	}

	return nil
}
