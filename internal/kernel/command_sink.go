package kernel

import (
	"context"
	"fmt"
	"strings"

	"pepebot/pkg/otogi"
)

const derivedCommandSuffix = "#command"

type commandRegistration struct {
	moduleName string
	spec       otogi.CommandSpec
}

// registerModuleCommands validates and registers module-owned command specs.
func (k *Kernel) registerModuleCommands(moduleName string, commands []otogi.CommandSpec) error {
	if len(commands) == 0 {
		return nil
	}

	normalized := make([]otogi.CommandSpec, 0, len(commands))
	seenInModule := make(map[string]struct{}, len(commands))
	for index, command := range commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("register command[%d] for module %s: %w", index, moduleName, err)
		}

		command = cloneCommandSpec(command)
		key := commandRegistryKey(command.Trigger, command.Name)
		if _, exists := seenInModule[key]; exists {
			return fmt.Errorf(
				"register command %s for module %s: duplicate declaration",
				formatCommandKey(command.Trigger, command.Name),
				moduleName,
			)
		}
		seenInModule[key] = struct{}{}
		normalized = append(normalized, command)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, command := range normalized {
		key := commandRegistryKey(command.Trigger, command.Name)
		if existing, exists := k.commands[key]; exists {
			return fmt.Errorf(
				"register command %s for module %s: already registered by module %s",
				formatCommandKey(command.Trigger, command.Name),
				moduleName,
				existing.moduleName,
			)
		}
	}
	for _, command := range normalized {
		k.commands[commandRegistryKey(command.Trigger, command.Name)] = commandRegistration{
			moduleName: moduleName,
			spec:       command,
		}
	}

	return nil
}

// unregisterModuleCommands removes every command owned by one module.
func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, registration := range k.commands {
		if registration.moduleName == moduleName {
			delete(k.commands, key)
		}
	}
}

// lookupCommand resolves one command spec by trigger and normalized name.
func (k *Kernel) lookupCommand(trigger otogi.CommandTrigger, name string) (otogi.CommandSpec, bool) {
	k.mu.RLock()
	registration, exists := k.commands[commandRegistryKey(trigger, name)]
	k.mu.RUnlock()
	if !exists {
		return otogi.CommandSpec{}, false
	}

	return cloneCommandSpec(registration.spec), true
}

// newDriverEventSink creates the source-event dispatcher wrapped with command derivation.
func (k *Kernel) newDriverEventSink() otogi.EventDispatcher {
	return &commandDerivingSink{
		base:          k.bus,
		lookupCommand: k.lookupCommand,
		serviceLookup: k.services,
		reportAsync:   k.cfg.onAsyncError,
	}
}

// commandDerivingSink publishes source events and derives command events.
//
// Registered commands of either trigger are bound against their spec. Slash
// commands nobody registered are still derived with Registered=false so a
// module can answer them; unregistered bang text is treated as plain chat.
// Commands that mention another bot account are left alone.
type commandDerivingSink struct {
	base          otogi.EventDispatcher
	lookupCommand func(trigger otogi.CommandTrigger, name string) (otogi.CommandSpec, bool)
	serviceLookup otogi.ServiceRegistry
	reportAsync   func(context.Context, string, error)
}

// Publish forwards one source event and conditionally derives one command event.
func (s *commandDerivingSink) Publish(ctx context.Context, event *otogi.Event) error {
	if event == nil {
		return fmt.Errorf("publish command deriving sink: nil event")
	}
	if s.base == nil {
		return fmt.Errorf("publish command deriving sink: nil base dispatcher")
	}

	if err := s.base.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}

	if event.Kind != otogi.EventKindMessageCreated || event.Message == nil {
		return nil
	}
	candidate, matched, parseErr := otogi.ParseCommandCandidate(event.Message.Text)
	if !matched || !candidate.AddressedTo(event.Source.Account) {
		return nil
	}

	var invocation otogi.CommandInvocation
	spec, registered := s.lookupCommand(candidate.Trigger, candidate.Name)
	switch {
	case registered && parseErr != nil:
		s.replyCommandError(ctx, event, spec, parseErr)
		return nil
	case registered:
		bound, bindErr := otogi.BindCommand(candidate, spec, event)
		if bindErr != nil {
			s.replyCommandError(ctx, event, spec, bindErr)
			return nil
		}
		invocation = bound
	case parseErr != nil || candidate.Trigger != otogi.CommandTriggerSlash:
		return nil
	default:
		unbound, err := otogi.UnregisteredInvocation(candidate, event)
		if err != nil {
			s.reportAsyncError(ctx, "derive unregistered command", err)
			return nil
		}
		invocation = unbound
	}

	commandEvent := derivedCommandEvent(event, invocation)
	if err := s.base.Publish(ctx, commandEvent); err != nil {
		return fmt.Errorf("publish derived command %s: %w", invocation.Name, err)
	}

	return nil
}

func (s *commandDerivingSink) replyCommandError(
	ctx context.Context,
	sourceEvent *otogi.Event,
	spec otogi.CommandSpec,
	commandErr error,
) {
	if s.serviceLookup == nil {
		s.reportAsyncError(ctx, "command error reply resolve dispatcher", fmt.Errorf("service lookup unavailable"))
		return
	}

	dispatcher, err := otogi.ResolveAs[otogi.SinkDispatcher](s.serviceLookup, otogi.ServiceSinkDispatcher)
	if err != nil {
		s.reportAsyncError(ctx, "command error reply resolve dispatcher", err)
		return
	}

	target, err := otogi.OutboundTargetFromEvent(sourceEvent)
	if err != nil {
		s.reportAsyncError(ctx, "command error reply derive target", err)
		return
	}

	_, err = dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:             target,
		Text:               formatCommandErrorReply(spec, commandErr),
		ReplyToMessageID:   sourceEvent.Message.ID,
		DisableLinkPreview: true,
	})
	if err != nil {
		s.reportAsyncError(ctx, "command error reply send", err)
	}
}

func (s *commandDerivingSink) reportAsyncError(ctx context.Context, scope string, err error) {
	if s.reportAsync != nil {
		s.reportAsync(ctx, scope, err)
	}
}

func derivedCommandEvent(sourceEvent *otogi.Event, invocation otogi.CommandInvocation) *otogi.Event {
	message := *sourceEvent.Message

	return &otogi.Event{
		ID:           sourceEvent.ID + derivedCommandSuffix,
		Kind:         otogi.EventKindCommandReceived,
		OccurredAt:   sourceEvent.OccurredAt,
		Source:       sourceEvent.Source,
		Conversation: sourceEvent.Conversation,
		Actor:        sourceEvent.Actor,
		Message:      &message,
		Command:      cloneCommandInvocation(invocation),
		Metadata:     cloneStringMap(sourceEvent.Metadata),
	}
}

func formatCommandErrorReply(spec otogi.CommandSpec, commandErr error) string {
	if commandErr == nil {
		return "usage: " + otogi.CommandUsage(spec)
	}

	return fmt.Sprintf("%s\nusage: %s", commandErr.Error(), otogi.CommandUsage(spec))
}

func commandRegistryKey(trigger otogi.CommandTrigger, name string) string {
	return fmt.Sprintf("%s:%s", trigger, normalizeCommandName(name))
}

func formatCommandKey(trigger otogi.CommandTrigger, name string) string {
	return string(trigger) + normalizeCommandName(name)
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func cloneCommandSpec(spec otogi.CommandSpec) otogi.CommandSpec {
	cloned := spec
	cloned.Name = normalizeCommandName(spec.Name)
	if len(spec.Options) == 0 {
		return cloned
	}

	cloned.Options = append([]otogi.CommandOptionSpec(nil), spec.Options...)
	for index := range cloned.Options {
		cloned.Options[index].Name = normalizeCommandName(cloned.Options[index].Name)
		cloned.Options[index].Alias = normalizeCommandName(cloned.Options[index].Alias)
	}

	return cloned
}

func cloneCommandInvocation(invocation otogi.CommandInvocation) *otogi.CommandInvocation {
	cloned := invocation
	if len(invocation.Options) > 0 {
		cloned.Options = append([]otogi.CommandOption(nil), invocation.Options...)
	}

	return &cloned
}

func cloneStringMap(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}

	cloned := make(map[string]string, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}

	return cloned
}
