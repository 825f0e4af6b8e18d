package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"
)

// updateEnvelope is one gotd update together with the entities and the
// container date it arrived with.
type updateEnvelope struct {
	update     tg.UpdateClass
	receivedAt time.Time
	entities   entityIndex
	class      string
}

// MessageMapper turns gotd new-message updates into adapter updates.
//
// Outgoing messages, service messages and messages without text are skipped:
// the bot only reacts to text typed by other accounts.
type MessageMapper struct {
	peers *PeerCache
}

// NewMessageMapper creates a mapper. When peers is non-nil every mapped
// update feeds it the input peers outbound replies will need.
func NewMessageMapper(peers *PeerCache) MessageMapper {
	return MessageMapper{peers: peers}
}

// Map converts one raw stream item. The boolean is false for updates the bot
// ignores.
func (m MessageMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, fmt.Errorf("map gotd update: %w", err)
	}

	envelope, err := asEnvelope(raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd update: %w", err)
	}
	m.peers.RememberEntities(envelope.entities)

	message, ok := newMessageOf(envelope.update)
	if !ok || message.Out || strings.TrimSpace(message.Message) == "" {
		return Update{}, false, nil
	}

	return m.mapMessage(message, envelope), true, nil
}

func asEnvelope(raw any) (updateEnvelope, error) {
	switch typed := raw.(type) {
	case updateEnvelope:
		return typed, nil
	case *updateEnvelope:
		if typed == nil {
			return updateEnvelope{}, errors.New("nil envelope")
		}
		return *typed, nil
	case tg.UpdateClass:
		if typed == nil {
			return updateEnvelope{}, errors.New("nil update")
		}
		return updateEnvelope{update: typed, receivedAt: time.Now().UTC(), class: typed.TypeName()}, nil
	default:
		return updateEnvelope{}, fmt.Errorf("unsupported raw type %T", raw)
	}
}

func newMessageOf(update tg.UpdateClass) (*tg.Message, bool) {
	var class tg.MessageClass
	switch typed := update.(type) {
	case *tg.UpdateNewMessage:
		class = typed.Message
	case *tg.UpdateNewChannelMessage:
		class = typed.Message
	default:
		return nil, false
	}

	message, ok := class.(*tg.Message)

	return message, ok && message != nil
}

func (m MessageMapper) mapMessage(message *tg.Message, envelope updateEnvelope) Update {
	chat := envelope.entities.conversation(message.PeerID)
	actor := envelope.entities.actor(message.FromID)
	if actor.ID == unknownPeerID {
		actor = envelope.entities.actor(message.PeerID)
	}
	m.peers.RememberConversation(chat, envelope.entities.inputPeer(message.PeerID))

	payload := &MessagePayload{
		ID:        strconv.Itoa(message.ID),
		ReplyToID: replyToID(message),
		Text:      message.Message,
	}
	occurredAt := unixSeconds(message.Date)
	if occurredAt.IsZero() {
		occurredAt = envelope.receivedAt
	}

	update := Update{
		ID:         composeUpdateID(UpdateTypeMessage, chat.ID, payload.ID, occurredAt),
		Type:       UpdateTypeMessage,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Message:    payload,
	}
	if envelope.class != "" {
		update.Metadata = map[string]string{"gotd_update": envelope.class}
	}

	return update
}

func replyToID(message *tg.Message) string {
	replyTo, ok := message.GetReplyTo()
	if !ok {
		return ""
	}
	header, ok := replyTo.(*tg.MessageReplyHeader)
	if !ok {
		return ""
	}
	id, ok := header.GetReplyToMsgID()
	if !ok {
		return ""
	}

	return strconv.Itoa(id)
}

func unixSeconds(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}

// composeUpdateID builds "tg:<type>:<chat>:<parts...>", skipping empty parts.
func composeUpdateID(updateType UpdateType, chatID string, messageID string, occurredAt time.Time) string {
	values := []string{"tg", string(updateType)}
	if chatID != "" {
		values = append(values, chatID)
	}
	if messageID != "" {
		values = append(values, messageID)
	}
	if !occurredAt.IsZero() {
		values = append(values, strconv.FormatInt(occurredAt.UnixNano(), 10))
	}

	return strings.Join(values, ":")
}
