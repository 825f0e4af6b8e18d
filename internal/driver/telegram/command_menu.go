package telegram

import (
	"context"
	"fmt"
	"regexp"

	"pepebot/pkg/otogi"

	"github.com/gotd/td/tg"
)

const maxBotCommandDescription = 256

// botCommandNamePattern is the command name alphabet Telegram accepts in menus.
var botCommandNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// botCommandSetter is the subset of the raw API used to publish the command menu.
type botCommandSetter interface {
	BotsSetBotCommands(ctx context.Context, request *tg.BotsSetBotCommandsRequest) (bool, error)
}

// publishCommandMenu replaces the bot's default-scope command menu with the
// slash commands registered in catalog and returns the published names.
func publishCommandMenu(
	ctx context.Context,
	setter botCommandSetter,
	catalog otogi.CommandCatalog,
	sink otogi.EventSink,
) ([]string, error) {
	if setter == nil {
		return nil, fmt.Errorf("publish command menu: nil api")
	}
	if catalog == nil {
		return nil, fmt.Errorf("publish command menu: nil catalog")
	}

	entries, err := catalog.ListCommands(ctx)
	if err != nil {
		return nil, fmt.Errorf("publish command menu list commands: %w", err)
	}

	commands := buildBotCommands(entries)
	if _, err := setter.BotsSetBotCommands(ctx, &tg.BotsSetBotCommandsRequest{
		Scope:    &tg.BotCommandScopeDefault{},
		Commands: commands,
	}); err != nil {
		return nil, fmt.Errorf(
			"publish command menu: %w",
			mapTelegramOutboundError(otogi.OutboundOperationSetCommands, sink, err),
		)
	}

	names := make([]string, 0, len(commands))
	for _, command := range commands {
		names = append(names, "/"+command.Command)
	}

	return names, nil
}

// buildBotCommands keeps slash commands whose names Telegram can display,
// first registration wins on duplicates.
func buildBotCommands(entries []otogi.RegisteredCommand) []tg.BotCommand {
	commands := make([]tg.BotCommand, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		spec := entry.Command
		if spec.Trigger != otogi.CommandTriggerSlash || !botCommandNamePattern.MatchString(spec.Name) {
			continue
		}
		if _, exists := seen[spec.Name]; exists {
			continue
		}
		seen[spec.Name] = struct{}{}

		description := spec.Description
		if description == "" {
			description = otogi.CommandUsage(spec)
		}
		if runes := []rune(description); len(runes) > maxBotCommandDescription {
			description = string(runes[:maxBotCommandDescription])
		}

		commands = append(commands, tg.BotCommand{
			Command:     spec.Name,
			Description: description,
		})
	}

	return commands
}
