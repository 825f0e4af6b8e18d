package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pepebot/pkg/otogi"
)

// moduleRecord is the kernel's view of one registered module.
type moduleRecord struct {
	name         string
	module       otogi.Module
	capabilities []otogi.Capability

	subMu         sync.Mutex
	subscriptions []otogi.Subscription
}

func (m *moduleRecord) addSubscription(subscription otogi.Subscription) {
	m.subMu.Lock()
	m.subscriptions = append(m.subscriptions, subscription)
	m.subMu.Unlock()
}

// closeSubscriptions closes and forgets every tracked subscription, so a
// second call has nothing left to close.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	errs := make([]error, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// moduleRuntime is the handle a module receives in OnRegister.
type moduleRuntime struct {
	moduleName string
	services   otogi.ServiceRegistry
	bus        otogi.EventBus
	record     *moduleRecord
}

// Services returns the kernel service registry.
func (r *moduleRuntime) Services() otogi.ServiceRegistry {
	return r.services
}

// Subscribe opens a subscription owned by the module. The interest must fit
// inside one of the module's declared capabilities.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
) (otogi.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.moduleName + "-subscription"
	}
	if err := assertSubscriptionAllowed(r.record.capabilities, spec.Name, interest); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}
	r.record.addSubscription(subscription)

	return subscription, nil
}

func assertSubscriptionAllowed(capabilities []otogi.Capability, subscriptionName string, interest otogi.InterestSet) error {
	if len(capabilities) == 0 {
		return fmt.Errorf("subscription %s requires at least one declared capability", subscriptionName)
	}
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return nil
		}
	}

	return fmt.Errorf("%w: subscription %s exceeds declared capabilities", otogi.ErrInvalidSubscription, subscriptionName)
}

var _ otogi.ModuleRuntime = (*moduleRuntime)(nil)
