// Package help answers /help with the commands registered in the kernel.
package help

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pepebot/pkg/otogi"
)

const helpCommandName = "help"

// Module replies with a command reference when it receives /help.
type Module struct {
	dispatcher     otogi.SinkDispatcher
	commandCatalog otogi.CommandCatalog
}

// New creates a help module.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Spec declares the /help command.
func (m *Module) Spec() otogi.ModuleSpec {
	return otogi.ModuleSpec{
		Handlers: []otogi.ModuleHandler{
			{
				Capability: otogi.Capability{
					Name:        "help-command-handler",
					Description: "lists registered commands for /help",
					Interest: otogi.InterestSet{
						Kinds:          []otogi.EventKind{otogi.EventKindCommandReceived},
						RequireMessage: true,
						RequireCommand: true,
						CommandNames:   []string{helpCommandName},
					},
					RequiredServices: []string{
						otogi.ServiceSinkDispatcher,
						otogi.ServiceCommandCatalog,
					},
				},
				Subscription: otogi.NewDefaultSubscriptionSpec("help-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []otogi.CommandSpec{
			{
				Trigger:     otogi.CommandTriggerSlash,
				Name:        helpCommandName,
				Description: "list available commands",
			},
		},
	}
}

// OnRegister resolves the outbound dispatcher and the command catalog.
func (m *Module) OnRegister(_ context.Context, runtime otogi.ModuleRuntime) error {
	dispatcher, err := otogi.ResolveAs[otogi.SinkDispatcher](
		runtime.Services(),
		otogi.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("help resolve sink dispatcher: %w", err)
	}
	commandCatalog, err := otogi.ResolveAs[otogi.CommandCatalog](
		runtime.Services(),
		otogi.ServiceCommandCatalog,
	)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	m.dispatcher = dispatcher
	m.commandCatalog = commandCatalog

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	if event.Kind != otogi.EventKindCommandReceived {
		return nil
	}
	if event.Command.Trigger != otogi.CommandTriggerSlash || event.Command.Name != helpCommandName {
		return nil
	}
	if m.dispatcher == nil || m.commandCatalog == nil {
		return fmt.Errorf("help handle command: module not registered")
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}

	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	_, err = m.dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:             target,
		Text:               renderHelp(commands),
		ReplyToMessageID:   event.Message.ID,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("help send reply: %w", err)
	}

	return nil
}

// renderHelp lists slash commands first, then legacy text triggers.
func renderHelp(commands []otogi.RegisteredCommand) string {
	if len(commands) == 0 {
		return "No commands available."
	}

	sorted := append([]otogi.RegisteredCommand(nil), commands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		left, right := sorted[i].Command, sorted[j].Command
		if left.Trigger != right.Trigger {
			return left.Trigger == otogi.CommandTriggerSlash
		}
		return left.Name < right.Name
	})

	lines := make([]string, 0, len(sorted)+1)
	lines = append(lines, "Commands:")
	for _, registered := range sorted {
		line := otogi.CommandUsage(registered.Command)
		if description := strings.TrimSpace(registered.Command.Description); description != "" {
			line += " - " + description
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

var (
	_ otogi.Module          = (*Module)(nil)
	_ otogi.ModuleRegistrar = (*Module)(nil)
)
