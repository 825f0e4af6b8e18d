package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pepebot/pkg/otogi"
)

// Decoder converts Telegram update DTOs into neutral otogi events.
type Decoder interface {
	// Decode maps one adapter update into a validated neutral event envelope.
	Decode(ctx context.Context, update Update) (*otogi.Event, error)
}

// DefaultDecoder turns message updates into message.created events.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts update and validates the result. Updates without a
// timestamp are stamped with the current time.
func (DefaultDecoder) Decode(_ context.Context, update Update) (*otogi.Event, error) {
	if update.Type != UpdateTypeMessage {
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}
	if update.Message == nil {
		return nil, errors.New("decode message: missing message payload")
	}
	if update.Message.ID == "" {
		return nil, errors.New("decode message: missing message id")
	}

	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	event := &otogi.Event{
		ID:         update.ID,
		Kind:       otogi.EventKindMessageCreated,
		OccurredAt: occurredAt,
		Source:     otogi.EventSource{Platform: DriverPlatform},
		Conversation: otogi.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: otogi.Actor(update.Actor),
		Message: &otogi.Message{
			ID:        update.Message.ID,
			ReplyToID: update.Message.ReplyToID,
			Text:      update.Message.Text,
		},
		Metadata: update.Metadata,
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}
