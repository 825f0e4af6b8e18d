package imagebot

import (
	"strings"

	"pepebot/pkg/otogi"
)

const (
	pepeCommandName      = "pepe"
	memeCommandName      = "meme"
	subredditOptionName  = "subreddit"
	subredditOptionAlias = "s"

	// bangPepeText is the only text form of the legacy trigger. Arguments or
	// other casing make it plain chat.
	bangPepeText = "!" + pepeCommandName
)

// CommandKind is the closed set of commands the dispatcher understands.
type CommandKind int

const (
	// KindUnrecognized is any command the bot does not serve.
	KindUnrecognized CommandKind = iota
	// KindCachedImage replies with a random entry of the cached collection.
	KindCachedImage
	// KindLiveImage replies with the result of one live meme query.
	KindLiveImage
)

// String returns a stable log label for the kind.
func (k CommandKind) String() string {
	switch k {
	case KindCachedImage:
		return "cached_image"
	case KindLiveImage:
		return "live_image"
	default:
		return "unrecognized"
	}
}

// Command is one parsed request handed to Dispatch.
type Command struct {
	// Kind selects the business path.
	Kind CommandKind
	// Name is the normalized command name as typed.
	Name string
	// Topic is the optional live query topic. Empty means no topic.
	Topic string
}

// ParseCommand maps one command invocation onto the closed command set.
//
// The bang trigger is served only when the message is exactly "!pepe". The
// live image topic comes from the subreddit option and falls back to the
// free-text tail.
func ParseCommand(invocation *otogi.CommandInvocation) Command {
	if invocation == nil {
		return Command{Kind: KindUnrecognized}
	}

	command := Command{
		Kind: KindUnrecognized,
		Name: invocation.Name,
	}
	if !invocation.Registered {
		return command
	}

	switch {
	case invocation.Name == pepeCommandName && invocation.Trigger == otogi.CommandTriggerBang:
		if strings.TrimSpace(invocation.RawInput) == bangPepeText {
			command.Kind = KindCachedImage
		}
	case invocation.Name == pepeCommandName:
		command.Kind = KindCachedImage
	case invocation.Name == memeCommandName && invocation.Trigger == otogi.CommandTriggerSlash:
		command.Kind = KindLiveImage
		topic, ok := invocation.OptionValue(subredditOptionName)
		if !ok {
			topic = invocation.Value
		}
		command.Topic = strings.TrimSpace(topic)
	}

	return command
}

func commandSpecs() []otogi.CommandSpec {
	return []otogi.CommandSpec{
		{
			Trigger:     otogi.CommandTriggerSlash,
			Name:        pepeCommandName,
			Description: "send a random pepe from the collection",
		},
		{
			Trigger:     otogi.CommandTriggerSlash,
			Name:        memeCommandName,
			Description: "send a random meme, optionally from one subreddit",
			Options: []otogi.CommandOptionSpec{
				{
					Name:        subredditOptionName,
					Alias:       subredditOptionAlias,
					HasValue:    true,
					Description: "subreddit to pick the meme from",
				},
			},
		},
		{
			Trigger:     otogi.CommandTriggerBang,
			Name:        pepeCommandName,
			Description: "send a random pepe from the collection",
		},
	}
}
