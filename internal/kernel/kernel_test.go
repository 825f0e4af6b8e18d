package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pepebot/pkg/otogi"
)

// TestRegisterModuleDependencyValidation verifies capability-required service validation.
func TestRegisterModuleDependencyValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		registerLogger bool
		wantErr        bool
	}{
		{
			name:           "missing required service fails",
			registerLogger: false,
			wantErr:        true,
		},
		{
			name:           "present required service succeeds",
			registerLogger: true,
			wantErr:        false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			t.Cleanup(func() {
				_ = kernelRuntime.EventBus().Close(context.Background())
			})
			if testCase.registerLogger {
				if err := kernelRuntime.RegisterService(otogi.ServiceLogger, struct{}{}); err != nil {
					t.Fatalf("register logger service failed: %v", err)
				}
			}

			module := &stubModule{
				name: "cap-module",
				spec: otogi.ModuleSpec{
					Handlers: []otogi.ModuleHandler{
						commandHandler("needs-logger", []string{otogi.ServiceLogger}, nopHandler),
					},
				},
			}
			err := kernelRuntime.RegisterModule(context.Background(), module)
			if testCase.wantErr && err == nil {
				t.Fatal("expected module registration error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected module registration error: %v", err)
			}
		})
	}
}

// TestKernelRunCallsModuleLifecycle verifies lifecycle hook execution during run/shutdown.
func TestKernelRunCallsModuleLifecycle(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	module := &stubModule{name: "lifecycle"}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	driver := &stubDriver{name: "stub-driver"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	waitCondition(t, func() bool { return driver.started.Load() > 0 })
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("kernel run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit")
	}

	if module.registered.Load() == 0 {
		t.Fatal("module OnRegister was not called")
	}
	if module.started.Load() == 0 {
		t.Fatal("module OnStart was not called")
	}
	if module.shutdown.Load() == 0 {
		t.Fatal("module OnShutdown was not called")
	}
	if driver.stopped.Load() == 0 {
		t.Fatal("driver Shutdown was not called")
	}
}

// TestKernelRunSkipsDriversWhenModuleStartFails verifies no driver starts before modules are ready.
func TestKernelRunSkipsDriversWhenModuleStartFails(t *testing.T) {
	t.Parallel()

	startErr := errors.New("collection not ready")
	kernelRuntime := New()
	module := &stubModule{name: "not-ready", startErr: startErr}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	driver := &stubDriver{name: "stub-driver"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	err := kernelRuntime.Run(context.Background())
	if !errors.Is(err, startErr) {
		t.Fatalf("run error = %v, want %v", err, startErr)
	}
	if driver.started.Load() != 0 {
		t.Fatalf("driver started %d times, want 0", driver.started.Load())
	}
}

// TestKernelRunReturnsDriverError verifies a fatal driver error stops the sibling drivers.
func TestKernelRunReturnsDriverError(t *testing.T) {
	t.Parallel()

	driverErr := errors.New("session revoked")
	kernelRuntime := New(WithShutdownTimeout(time.Second))
	healthy := &stubDriver{name: "healthy"}
	failing := &stubDriver{name: "failing", startErr: driverErr}
	for _, driver := range []*stubDriver{healthy, failing} {
		if err := kernelRuntime.RegisterDriver(driver); err != nil {
			t.Fatalf("register driver %s failed: %v", driver.name, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- kernelRuntime.Run(context.Background())
	}()

	select {
	case err := <-done:
		if !errors.Is(err, driverErr) {
			t.Fatalf("run error = %v, want %v", err, driverErr)
		}
		if !strings.Contains(err.Error(), "run driver failing") {
			t.Fatalf("run error = %v, want driver scope", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit after driver failure")
	}
	if healthy.stopped.Load() == 0 {
		t.Fatal("healthy driver Shutdown was not called")
	}
}

// TestKernelDriverMessageDerivesCommandForModule verifies the driver to module path.
func TestKernelDriverMessageDerivesCommandForModule(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	handled := make(chan *otogi.Event, 1)
	module := &stubModule{
		name: "commands",
		spec: otogi.ModuleSpec{
			Handlers: []otogi.ModuleHandler{
				commandHandler("pepe-command", nil, func(_ context.Context, event *otogi.Event) error {
					handled <- event
					return nil
				}),
			},
			Commands: []otogi.CommandSpec{
				{Trigger: otogi.CommandTriggerBang, Name: "pepe"},
			},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	driver := &stubDriver{
		name: "publishing",
		publish: []*otogi.Event{
			newSourceMessageEvent("evt-1", "msg-1", "!pepe"),
		},
	}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	event := waitEvent(t, handled)
	if event.Command == nil || event.Command.Name != "pepe" || !event.Command.Registered {
		t.Fatalf("command = %+v, want registered pepe", event.Command)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("kernel run failed: %v", err)
	}
}

// TestRegisterModuleImperativeSubscriptionCapabilityGate verifies imperative subscriptions
// remain possible, but only within declared capabilities.
func TestRegisterModuleImperativeSubscriptionCapabilityGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		spec     otogi.ModuleSpec
		interest otogi.InterestSet
		wantErr  bool
	}{
		{
			name:     "missing capability fails",
			spec:     otogi.ModuleSpec{},
			interest: otogi.InterestSet{Kinds: []otogi.EventKind{otogi.EventKindCommandReceived}},
			wantErr:  true,
		},
		{
			name: "covered interest succeeds",
			spec: otogi.ModuleSpec{
				Handlers: []otogi.ModuleHandler{commandHandler("commands", nil, nopHandler)},
			},
			interest: otogi.InterestSet{
				Kinds:          []otogi.EventKind{otogi.EventKindCommandReceived},
				RequireCommand: true,
			},
		},
		{
			name: "wider interest fails",
			spec: otogi.ModuleSpec{
				Handlers: []otogi.ModuleHandler{commandHandler("commands", nil, nopHandler)},
			},
			interest: otogi.InterestSet{Kinds: []otogi.EventKind{otogi.EventKindMessageCreated}},
			wantErr:  true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			t.Cleanup(func() {
				_ = kernelRuntime.EventBus().Close(context.Background())
			})

			module := &stubModule{
				name: "imperative",
				spec: testCase.spec,
				onRegister: func(ctx context.Context, runtime otogi.ModuleRuntime) error {
					_, err := runtime.Subscribe(ctx, testCase.interest, otogi.SubscriptionSpec{
						Name: "imperative-handler",
					}, nopHandler)
					if err != nil {
						return fmt.Errorf("subscribe imperative handler: %w", err)
					}

					return nil
				},
			}

			err := kernelRuntime.RegisterModule(context.Background(), module)
			if testCase.wantErr && err == nil {
				t.Fatal("expected module registration error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected module registration error: %v", err)
			}
		})
	}
}

// TestRegisterModuleSpecValidation verifies declarative spec validation failures.
func TestRegisterModuleSpecValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		spec       otogi.ModuleSpec
		wantErrSub string
	}{
		{
			name: "empty handler capability name",
			spec: otogi.ModuleSpec{
				Handlers: []otogi.ModuleHandler{commandHandler("", nil, nopHandler)},
			},
			wantErrSub: "empty capability name",
		},
		{
			name: "duplicate capability name",
			spec: otogi.ModuleSpec{
				Handlers: []otogi.ModuleHandler{
					commandHandler("dup", nil, nopHandler),
					commandHandler("dup", nil, nopHandler),
				},
			},
			wantErrSub: "duplicate capability name",
		},
		{
			name: "nil handler",
			spec: otogi.ModuleSpec{
				Handlers: []otogi.ModuleHandler{commandHandler("nil-handler", nil, nil)},
			},
			wantErrSub: "nil handler",
		},
		{
			name: "duplicate subscription name",
			spec: otogi.ModuleSpec{
				Handlers: []otogi.ModuleHandler{
					withSubscriptionName(commandHandler("a", nil, nopHandler), "dup-sub"),
					withSubscriptionName(commandHandler("b", nil, nopHandler), "dup-sub"),
				},
			},
			wantErrSub: "duplicate subscription name",
		},
		{
			name: "invalid command spec",
			spec: otogi.ModuleSpec{
				Commands: []otogi.CommandSpec{{Trigger: otogi.CommandTriggerSlash}},
			},
			wantErrSub: "register command[0]",
		},
		{
			name: "duplicate command declaration",
			spec: otogi.ModuleSpec{
				Commands: []otogi.CommandSpec{
					{Trigger: otogi.CommandTriggerSlash, Name: "pepe"},
					{Trigger: otogi.CommandTriggerSlash, Name: "PEPE"},
				},
			},
			wantErrSub: "register command /pepe for module invalid: duplicate declaration",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			t.Cleanup(func() {
				_ = kernelRuntime.EventBus().Close(context.Background())
			})
			module := &stubModule{
				name: "invalid",
				spec: testCase.spec,
			}

			err := kernelRuntime.RegisterModule(context.Background(), module)
			if err == nil {
				t.Fatal("expected module registration error")
			}
			if !strings.Contains(err.Error(), testCase.wantErrSub) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
			}
		})
	}
}

func TestKernelProvidesCommandCatalogService(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	catalog, err := otogi.ResolveAs[otogi.CommandCatalog](
		kernelRuntime.Services(),
		otogi.ServiceCommandCatalog,
	)
	if err != nil {
		t.Fatalf("resolve command catalog failed: %v", err)
	}

	module := &stubModule{
		name: "catalog-provider",
		spec: otogi.ModuleSpec{
			Commands: []otogi.CommandSpec{
				{Trigger: otogi.CommandTriggerSlash, Name: "pepe"},
				{Trigger: otogi.CommandTriggerBang, Name: "pepe"},
				{Trigger: otogi.CommandTriggerSlash, Name: "meme"},
			},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	commands, err := catalog.ListCommands(context.Background())
	if err != nil {
		t.Fatalf("list commands failed: %v", err)
	}
	got := make([]string, 0, len(commands))
	for _, command := range commands {
		if command.ModuleName != "catalog-provider" {
			t.Fatalf("module name = %q, want catalog-provider", command.ModuleName)
		}
		got = append(got, formatCommandKey(command.Command.Trigger, command.Command.Name))
	}
	if strings.Join(got, ",") != "!pepe,/meme,/pepe" {
		t.Fatalf("commands = %v, want [!pepe /meme /pepe]", got)
	}
}

// TestKernelReportsHandlerErrorsAndLogsStats verifies async handler failures and shutdown stats.
func TestKernelReportsHandlerErrorsAndLogsStats(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 1)
	logs := &recordHandler{}
	kernelRuntime := New(
		WithLogger(slog.New(logs)),
		WithAsyncErrorHandler(func(_ context.Context, _ string, err error) {
			select {
			case reported <- err:
			default:
			}
		}),
	)

	handlerErr := errors.New("imgur down")
	module := &stubModule{
		name: "failing",
		spec: otogi.ModuleSpec{
			Handlers: []otogi.ModuleHandler{
				withSubscriptionName(commandHandler("pepe", nil, func(context.Context, *otogi.Event) error {
					return handlerErr
				}), "failing-commands"),
			},
			Commands: []otogi.CommandSpec{{Trigger: otogi.CommandTriggerSlash, Name: "pepe"}},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	message := newTestEvent("m1", otogi.EventKindMessageCreated)
	message.Message.Text = "/pepe"
	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "stub", publish: []*otogi.Event{message}}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	select {
	case err := <-reported:
		if !errors.Is(err, handlerErr) {
			t.Fatalf("reported error = %v, want %v", err, handlerErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler error was not reported")
	}
	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("kernel run failed: %v", err)
	}

	attrs, ok := logs.find("subscription stats")
	if !ok {
		t.Fatal("expected subscription stats log")
	}
	if attrs["subscription"] != "failing-commands" || attrs["failed"] != "1" || attrs["handled"] != "0" {
		t.Fatalf("stats attrs = %v, want failing-commands with one failure", attrs)
	}
}

func nopHandler(context.Context, *otogi.Event) error {
	return nil
}

func commandHandler(name string, services []string, handler otogi.EventHandler) otogi.ModuleHandler {
	return otogi.ModuleHandler{
		Capability: otogi.Capability{
			Name: name,
			Interest: otogi.InterestSet{
				Kinds:          []otogi.EventKind{otogi.EventKindCommandReceived},
				RequireCommand: true,
			},
			RequiredServices: services,
		},
		Handler: handler,
	}
}

func withSubscriptionName(handler otogi.ModuleHandler, name string) otogi.ModuleHandler {
	handler.Subscription.Name = name
	return handler
}

func waitCondition(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

type stubModule struct {
	name     string
	spec     otogi.ModuleSpec
	startErr error

	onRegister func(ctx context.Context, runtime otogi.ModuleRuntime) error

	registered atomic.Int32
	started    atomic.Int32
	shutdown   atomic.Int32
}

func (m *stubModule) Name() string {
	return m.name
}

func (m *stubModule) Spec() otogi.ModuleSpec {
	return m.spec
}

func (m *stubModule) OnRegister(ctx context.Context, runtime otogi.ModuleRuntime) error {
	m.registered.Add(1)
	if m.onRegister != nil {
		return m.onRegister(ctx, runtime)
	}

	return nil
}

func (m *stubModule) OnStart(_ context.Context) error {
	m.started.Add(1)
	return m.startErr
}

func (m *stubModule) OnShutdown(_ context.Context) error {
	m.shutdown.Add(1)
	return nil
}

type stubDriver struct {
	name     string
	startErr error
	publish  []*otogi.Event

	started atomic.Int32
	stopped atomic.Int32
}

func (d *stubDriver) Name() string {
	return d.name
}

func (d *stubDriver) Start(ctx context.Context, dispatcher otogi.EventDispatcher) error {
	d.started.Add(1)
	if d.startErr != nil {
		return d.startErr
	}
	for _, event := range d.publish {
		if err := dispatcher.Publish(ctx, event); err != nil {
			return err
		}
	}
	<-ctx.Done()

	return nil
}

func (d *stubDriver) Shutdown(_ context.Context) error {
	d.stopped.Add(1)
	return nil
}

type recordHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordHandler) Handle(_ context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record.Clone())
	return nil
}

func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler {
	return h
}

func (h *recordHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *recordHandler) find(message string) (map[string]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, record := range h.records {
		if record.Message != message {
			continue
		}
		attrs := make(map[string]string)
		record.Attrs(func(attr slog.Attr) bool {
			attrs[attr.Key] = attr.Value.String()
			return true
		})
		return attrs, true
	}

	return nil, false
}
