package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 1024

// GotdUpdateChannel receives update containers from gotd and queues one
// envelope per contained update for the bot source to map.
type GotdUpdateChannel struct {
	updates chan any
}

// NewGotdUpdateChannel creates the queue. A non-positive buffer uses the default.
func NewGotdUpdateChannel(buffer int) (*GotdUpdateChannel, error) {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{updates: make(chan any, buffer)}, nil
}

// Updates returns the queue consumed by GotdBotSource.
func (s *GotdUpdateChannel) Updates(ctx context.Context) (<-chan any, error) {
	if ctx == nil {
		return nil, errors.New("gotd update channel: nil context")
	}
	if s.updates == nil {
		return nil, errors.New("gotd update channel: not initialized")
	}

	return s.updates, nil
}

// Handle implements gotd's update handler. It blocks while the queue is full,
// which in turn slows gotd's update loop down.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	if s.updates == nil {
		return errors.New("handle gotd updates: stream not initialized")
	}

	batch, err := flattenGotdUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}
	for _, envelope := range batch {
		select {
		case s.updates <- envelope:
		case <-ctx.Done():
			return fmt.Errorf("handle gotd updates: %w", ctx.Err())
		}
	}

	return nil
}

// flattenGotdUpdates unwraps one container. Short message forms are rebuilt
// as UpdateNewMessage so the mapper has a single shape to handle.
func flattenGotdUpdates(updates tg.UpdatesClass) ([]updateEnvelope, error) {
	switch typed := updates.(type) {
	case nil:
		return nil, errors.New("flatten gotd updates: nil updates")
	case *tg.Updates:
		return envelopes(typed.Updates, typed.Date, newEntityIndex(typed.Users, typed.Chats))
	case *tg.UpdatesCombined:
		return envelopes(typed.Updates, typed.Date, newEntityIndex(typed.Users, typed.Chats))
	case *tg.UpdateShort:
		return envelopes([]tg.UpdateClass{typed.Update}, typed.Date, entityIndex{})
	case *tg.UpdateShortMessage:
		message := &tg.Message{
			ID:      typed.ID,
			Out:     typed.Out,
			PeerID:  &tg.PeerUser{UserID: typed.UserID},
			Date:    typed.Date,
			Message: typed.Message,
		}
		message.SetFromID(&tg.PeerUser{UserID: typed.UserID})
		if replyTo, ok := typed.GetReplyTo(); ok {
			message.SetReplyTo(replyTo)
		}
		return []updateEnvelope{rebuiltEnvelope(message, typed.Pts, typed.PtsCount, typed.TypeName())}, nil
	case *tg.UpdateShortChatMessage:
		message := &tg.Message{
			ID:      typed.ID,
			Out:     typed.Out,
			PeerID:  &tg.PeerChat{ChatID: typed.ChatID},
			Date:    typed.Date,
			Message: typed.Message,
		}
		message.SetFromID(&tg.PeerUser{UserID: typed.FromID})
		if replyTo, ok := typed.GetReplyTo(); ok {
			message.SetReplyTo(replyTo)
		}
		return []updateEnvelope{rebuiltEnvelope(message, typed.Pts, typed.PtsCount, typed.TypeName())}, nil
	case *tg.UpdatesTooLong:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func envelopes(updates []tg.UpdateClass, date int, entities entityIndex) ([]updateEnvelope, error) {
	receivedAt := unixSeconds(date)

	batch := make([]updateEnvelope, 0, len(updates))
	for _, update := range updates {
		if update == nil {
			return nil, errors.New("flatten gotd batch: nil update")
		}
		batch = append(batch, updateEnvelope{
			update:     update,
			receivedAt: receivedAt,
			entities:   entities,
			class:      update.TypeName(),
		})
	}

	return batch, nil
}

func rebuiltEnvelope(message *tg.Message, pts int, ptsCount int, class string) updateEnvelope {
	receivedAt := unixSeconds(message.Date)
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	return updateEnvelope{
		update:     &tg.UpdateNewMessage{Message: message, Pts: pts, PtsCount: ptsCount},
		receivedAt: receivedAt,
		class:      class,
	}
}
