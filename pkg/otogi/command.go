package otogi

import (
	"fmt"
	"strings"
)

// CommandTrigger identifies the leading character introducing one command invocation.
type CommandTrigger string

const (
	// CommandTriggerSlash identifies structured platform commands such as `/pepe`.
	CommandTriggerSlash CommandTrigger = "/"
	// CommandTriggerBang identifies legacy text triggers such as `!pepe`.
	CommandTriggerBang CommandTrigger = "!"
)

// Validate checks whether one command trigger is supported.
func (t CommandTrigger) Validate() error {
	switch t {
	case CommandTriggerSlash, CommandTriggerBang:
		return nil
	default:
		return fmt.Errorf("validate command trigger: unsupported trigger %q", t)
	}
}

// CommandCandidate is a parsed command-looking message before command-spec binding.
type CommandCandidate struct {
	// Trigger is the leading command trigger.
	Trigger CommandTrigger
	// Name is the normalized command name without trigger and mention suffix.
	Name string
	// Mention is the optional mention suffix from `<name>@<mention>`.
	Mention string
	// RawInput is the original untrimmed message text.
	RawInput string
	// Tokens stores command tail tokens after the command header token.
	Tokens []string
}

// AddressedTo reports whether the candidate is meant for account.
//
// A candidate without a mention is addressed to everyone, and so is every
// candidate when account is unknown. Handles compare case-insensitively.
func (c CommandCandidate) AddressedTo(account string) bool {
	if c.Mention == "" || account == "" {
		return true
	}

	return strings.EqualFold(c.Mention, strings.TrimPrefix(account, "@"))
}

// CommandOption is one parsed command option in a bound invocation.
type CommandOption struct {
	// Name is the normalized long option name.
	Name string
	// Alias is the normalized short option alias when declared.
	Alias string
	// Value is the consumed option value when HasValue is true.
	Value string
	// HasValue reports whether this option consumed one value token.
	HasValue bool
}

// CommandInvocation carries one command event payload.
type CommandInvocation struct {
	// Trigger is the trigger the user typed.
	Trigger CommandTrigger
	// Name is the normalized command name.
	Name string
	// Mention is the optional mention suffix from `<name>@<mention>`.
	Mention string
	// Value stores the remaining non-option tail text joined by spaces.
	Value string
	// Options stores parsed options defined by the bound command spec.
	Options []CommandOption
	// Registered reports whether a module declared this command.
	//
	// Unregistered invocations carry the raw tail in Value and no Options.
	Registered bool
	// SourceEventID identifies the inbound source event that produced this command.
	SourceEventID string
	// RawInput stores the original inbound message text.
	RawInput string
}

// Validate checks command invocation contract fields.
func (c *CommandInvocation) Validate() error {
	if c == nil {
		return fmt.Errorf("validate command invocation: nil invocation")
	}
	if err := c.Trigger.Validate(); err != nil {
		return fmt.Errorf("validate command invocation: %w", err)
	}
	if normalizeCommandName(c.Name) == "" {
		return fmt.Errorf("validate command invocation: missing name")
	}
	if c.SourceEventID == "" {
		return fmt.Errorf("validate command invocation: missing source_event_id")
	}

	return nil
}

// OptionValue returns the value of the first parsed option matching name or alias.
func (c *CommandInvocation) OptionValue(name string) (string, bool) {
	if c == nil {
		return "", false
	}

	key := normalizeCommandName(name)
	for _, option := range c.Options {
		if !option.HasValue {
			continue
		}
		if option.Name == key || (option.Alias != "" && option.Alias == key) {
			return option.Value, true
		}
	}

	return "", false
}

// CommandOptionSpec declares one available option in one command registration.
type CommandOptionSpec struct {
	// Name is the long option key used as `--<name>`.
	Name string
	// Alias is the short option key used as `-<alias>`.
	Alias string
	// HasValue reports whether the option must consume one following value token.
	HasValue bool
	// Required reports whether this option must appear in one invocation.
	Required bool
	// Description describes option behavior for command menus and usage text.
	Description string
}

// Validate checks command option specification coherence.
func (s CommandOptionSpec) Validate() error {
	name := normalizeCommandName(s.Name)
	alias := normalizeCommandName(s.Alias)
	if name == "" && alias == "" {
		return fmt.Errorf("validate command option spec: missing name and alias")
	}
	if alias != "" && len(alias) != 1 {
		return fmt.Errorf("validate command option spec: alias %q must be one character", s.Alias)
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return fmt.Errorf("validate command option spec: name %q contains whitespace", s.Name)
	}

	return nil
}

// CommandSpec declares one module command registration.
type CommandSpec struct {
	// Trigger identifies which command trigger invokes this command.
	Trigger CommandTrigger
	// Name is the command name without trigger and mention suffix.
	Name string
	// Description describes command behavior for command menus and usage text.
	Description string
	// Options declares supported command options.
	Options []CommandOptionSpec
}

// Validate checks command specification coherence.
func (s CommandSpec) Validate() error {
	if err := s.Trigger.Validate(); err != nil {
		return fmt.Errorf("validate command spec %q: %w", s.Name, err)
	}
	name := normalizeCommandName(s.Name)
	if name == "" {
		return fmt.Errorf("validate command spec: missing name")
	}
	if strings.ContainsAny(name, " \t\r\n@") {
		return fmt.Errorf("validate command spec: name %q contains whitespace or mention separator", s.Name)
	}

	seen := make(map[string]struct{}, 2*len(s.Options))
	for index, option := range s.Options {
		if err := option.Validate(); err != nil {
			return fmt.Errorf("validate command spec %s option[%d]: %w", s.Name, index, err)
		}
		for _, key := range optionKeys(option) {
			if _, exists := seen[key]; exists {
				return fmt.Errorf("validate command spec %s: duplicate option %s", s.Name, key)
			}
			seen[key] = struct{}{}
		}
	}

	return nil
}

// ParseCommandCandidate parses one input text into a command candidate.
//
// matched is false when text does not look like a command. When matched is true,
// candidate fields are populated as much as possible and err reports syntax
// issues such as a missing command name.
func ParseCommandCandidate(text string) (candidate CommandCandidate, matched bool, err error) {
	candidate.RawInput = text

	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return candidate, false, nil
	}
	header := fields[0]

	trigger, matched := parseCommandTrigger(header)
	if !matched {
		return candidate, false, nil
	}
	candidate.Trigger = trigger

	name, mention, _ := strings.Cut(header[len(trigger):], "@")
	candidate.Name = normalizeCommandName(name)
	candidate.Mention = strings.TrimSpace(mention)
	if candidate.Name == "" {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}

	if len(fields) > 1 {
		candidate.Tokens = append([]string(nil), fields[1:]...)
	}
	for _, token := range candidate.Tokens {
		if strings.HasPrefix(token, "--") && strings.Contains(token, "=") {
			return candidate, true, fmt.Errorf("parse command candidate: unsupported option format %q", token)
		}
	}

	return candidate, true, nil
}

// BindCommand validates one parsed candidate against one registered command spec.
//
// sourceEvent must identify the inbound event that produced this command.
func BindCommand(
	candidate CommandCandidate,
	spec CommandSpec,
	sourceEvent *Event,
) (CommandInvocation, error) {
	if sourceEvent == nil {
		return CommandInvocation{}, fmt.Errorf("bind command: nil source event")
	}
	if err := spec.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}
	if candidate.Trigger != spec.Trigger {
		return CommandInvocation{}, fmt.Errorf(
			"bind command %s: trigger mismatch, got %q want %q",
			spec.Name,
			candidate.Trigger,
			spec.Trigger,
		)
	}
	specName := normalizeCommandName(spec.Name)
	if normalizeCommandName(candidate.Name) != specName {
		return CommandInvocation{}, fmt.Errorf("bind command %s: name mismatch, got %q", spec.Name, candidate.Name)
	}

	byKey := make(map[string]CommandOptionSpec, 2*len(spec.Options))
	for _, option := range spec.Options {
		for _, key := range optionKeys(option) {
			byKey[key] = option
		}
	}

	options := make([]CommandOption, 0, len(candidate.Tokens))
	valueTokens := make([]string, 0, len(candidate.Tokens))
	seen := make(map[string]struct{}, len(spec.Options))

	for index := 0; index < len(candidate.Tokens); index++ {
		token := candidate.Tokens[index]
		key, isOption := optionTokenKey(token)
		if !isOption {
			valueTokens = append(valueTokens, token)
			continue
		}

		optionSpec, exists := byKey[key]
		if !exists {
			return CommandInvocation{}, fmt.Errorf("bind command %s: unknown option %s", spec.Name, token)
		}
		option := CommandOption{
			Name:  normalizeCommandName(optionSpec.Name),
			Alias: normalizeCommandName(optionSpec.Alias),
		}
		if optionSpec.HasValue {
			if index+1 >= len(candidate.Tokens) {
				return CommandInvocation{}, fmt.Errorf("bind command %s: option %s requires a value", spec.Name, token)
			}
			if _, nextIsOption := optionTokenKey(candidate.Tokens[index+1]); nextIsOption {
				return CommandInvocation{}, fmt.Errorf("bind command %s: option %s requires a value", spec.Name, token)
			}
			index++
			option.HasValue = true
			option.Value = candidate.Tokens[index]
		}
		options = append(options, option)
		seen[optionKeys(optionSpec)[0]] = struct{}{}
	}

	for _, option := range spec.Options {
		if !option.Required {
			continue
		}
		if _, exists := seen[optionKeys(option)[0]]; !exists {
			return CommandInvocation{}, fmt.Errorf(
				"bind command %s: missing required option %s",
				spec.Name,
				CommandOptionUsage(option),
			)
		}
	}

	invocation := CommandInvocation{
		Trigger:       spec.Trigger,
		Name:          specName,
		Mention:       candidate.Mention,
		Value:         strings.Join(valueTokens, " "),
		Options:       options,
		Registered:    true,
		SourceEventID: sourceEvent.ID,
		RawInput:      candidate.RawInput,
	}
	if err := invocation.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	return invocation, nil
}

// UnregisteredInvocation builds an invocation for a command nobody declared.
func UnregisteredInvocation(candidate CommandCandidate, sourceEvent *Event) (CommandInvocation, error) {
	if sourceEvent == nil {
		return CommandInvocation{}, fmt.Errorf("unregistered invocation: nil source event")
	}

	invocation := CommandInvocation{
		Trigger:       candidate.Trigger,
		Name:          normalizeCommandName(candidate.Name),
		Mention:       candidate.Mention,
		Value:         strings.Join(candidate.Tokens, " "),
		SourceEventID: sourceEvent.ID,
		RawInput:      candidate.RawInput,
	}
	if err := invocation.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("unregistered invocation %s: %w", candidate.Name, err)
	}

	return invocation, nil
}

// CommandUsage renders a one-line usage string for one command spec.
func CommandUsage(spec CommandSpec) string {
	usage := string(spec.Trigger) + normalizeCommandName(spec.Name)
	for _, option := range spec.Options {
		descriptor := CommandOptionUsage(option)
		if option.HasValue {
			descriptor += " <value>"
		}
		if !option.Required {
			descriptor = "[" + descriptor + "]"
		}
		usage += " " + descriptor
	}

	return usage
}

// CommandOptionUsage renders the preferred token for one option.
func CommandOptionUsage(option CommandOptionSpec) string {
	if name := normalizeCommandName(option.Name); name != "" {
		return "--" + name
	}

	return "-" + normalizeCommandName(option.Alias)
}

func parseCommandTrigger(token string) (CommandTrigger, bool) {
	switch {
	case strings.HasPrefix(token, string(CommandTriggerSlash)):
		return CommandTriggerSlash, true
	case strings.HasPrefix(token, string(CommandTriggerBang)):
		return CommandTriggerBang, true
	default:
		return "", false
	}
}

// optionKeys returns lookup keys for one option, long name first.
func optionKeys(option CommandOptionSpec) []string {
	keys := make([]string, 0, 2)
	if name := normalizeCommandName(option.Name); name != "" {
		keys = append(keys, "--"+name)
	}
	if alias := normalizeCommandName(option.Alias); alias != "" {
		keys = append(keys, "-"+alias)
	}

	return keys
}

// optionTokenKey maps `--name` and `-a` tokens to lookup keys.
func optionTokenKey(token string) (string, bool) {
	if strings.HasPrefix(token, "--") {
		if len(token) <= 2 || strings.Contains(token, "=") {
			return "", false
		}
		return "--" + normalizeCommandName(token[2:]), true
	}
	if len(token) == 2 && token[0] == '-' && token[1] != '-' {
		return "-" + normalizeCommandName(token[1:]), true
	}

	return "", false
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
