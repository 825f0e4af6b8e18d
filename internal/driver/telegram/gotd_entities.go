package telegram

import (
	"strconv"
	"strings"

	"pepebot/pkg/otogi"

	"github.com/gotd/td/tg"
)

const unknownPeerID = "unknown"

// entityIndex holds the users and chats Telegram sends next to an update
// batch. Titles, names and access hashes are only available from here.
type entityIndex struct {
	users map[int64]*tg.User
	chats map[int64]chatEntity
}

type chatEntity struct {
	title string
	kind  otogi.ConversationType
	peer  tg.InputPeerClass
}

func newEntityIndex(users []tg.UserClass, chats []tg.ChatClass) entityIndex {
	index := entityIndex{}
	if len(users) > 0 {
		index.users = make(map[int64]*tg.User, len(users))
		for _, user := range users {
			if full, ok := asFullUser(user); ok {
				index.users[full.ID] = full
			}
		}
	}
	if len(chats) > 0 {
		index.chats = make(map[int64]chatEntity, len(chats))
		for _, chat := range chats {
			if id, entity, ok := describeChat(chat); ok {
				index.chats[id] = entity
			}
		}
	}

	return index
}

func asFullUser(user tg.UserClass) (*tg.User, bool) {
	if user == nil {
		return nil, false
	}
	full, ok := user.AsNotEmpty()

	return full, ok && full != nil
}

func describeChat(chat tg.ChatClass) (int64, chatEntity, bool) {
	switch typed := chat.(type) {
	case *tg.Chat:
		return typed.ID, chatEntity{
			title: typed.Title,
			kind:  otogi.ConversationTypeGroup,
			peer:  typed.AsInputPeer(),
		}, true
	case *tg.ChatForbidden:
		return typed.ID, chatEntity{
			title: typed.Title,
			kind:  otogi.ConversationTypeGroup,
			peer:  &tg.InputPeerChat{ChatID: typed.ID},
		}, true
	case *tg.Channel:
		return typed.ID, chatEntity{
			title: typed.Title,
			kind:  channelKind(typed.Megagroup),
			peer:  typed.AsInputPeer(),
		}, true
	case *tg.ChannelForbidden:
		return typed.ID, chatEntity{
			title: typed.Title,
			kind:  channelKind(typed.Megagroup),
			peer:  &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash},
		}, true
	default:
		return 0, chatEntity{}, false
	}
}

// channelKind reports megagroups as groups; broadcast channels stay channels.
func channelKind(megagroup bool) otogi.ConversationType {
	if megagroup {
		return otogi.ConversationTypeGroup
	}

	return otogi.ConversationTypeChannel
}

// conversation describes the chat a message was posted in. A private chat is
// named after the other user.
func (x entityIndex) conversation(peer tg.PeerClass) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		user := x.user(typed.UserID)
		return ChatRef{ID: user.ID, Type: otogi.ConversationTypePrivate, Title: user.DisplayName}
	case *tg.PeerChat:
		return x.chat(typed.ChatID, otogi.ConversationTypeGroup)
	case *tg.PeerChannel:
		return x.chat(typed.ChannelID, otogi.ConversationTypeChannel)
	default:
		return ChatRef{ID: unknownPeerID, Type: otogi.ConversationTypePrivate}
	}
}

// chat uses the kind from the entity table when present, fallback otherwise.
func (x entityIndex) chat(id int64, fallback otogi.ConversationType) ChatRef {
	ref := ChatRef{ID: strconv.FormatInt(id, 10), Type: fallback}
	if entity, ok := x.chats[id]; ok {
		ref.Title = entity.title
		ref.Type = entity.kind
	}

	return ref
}

// actor describes who sent a message. Anonymous group admins and channel
// posts are attributed to the chat itself.
func (x entityIndex) actor(peer tg.PeerClass) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return x.user(typed.UserID)
	case *tg.PeerChat:
		return ActorRef{ID: strconv.FormatInt(typed.ChatID, 10), DisplayName: x.chats[typed.ChatID].title}
	case *tg.PeerChannel:
		return ActorRef{ID: strconv.FormatInt(typed.ChannelID, 10), DisplayName: x.chats[typed.ChannelID].title}
	default:
		return ActorRef{ID: unknownPeerID}
	}
}

func (x entityIndex) user(userID int64) ActorRef {
	if userID == 0 {
		return ActorRef{ID: unknownPeerID}
	}

	ref := ActorRef{ID: strconv.FormatInt(userID, 10)}
	user, ok := x.users[userID]
	if !ok || user == nil {
		return ref
	}

	ref.Username, _ = user.GetUsername()
	ref.IsBot = user.Bot
	first, _ := user.GetFirstName()
	last, _ := user.GetLastName()
	for _, candidate := range []string{strings.TrimSpace(first + " " + last), ref.Username, ref.ID} {
		if candidate != "" {
			ref.DisplayName = candidate
			break
		}
	}

	return ref
}

// inputPeer returns the peer needed to reply into the chat, or nil when the
// batch carried no access hash for it. Basic groups need no hash.
func (x entityIndex) inputPeer(peer tg.PeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if user, ok := x.users[typed.UserID]; ok && user != nil {
			return user.AsInputPeer()
		}
	case *tg.PeerChat:
		if typed.ChatID != 0 {
			return &tg.InputPeerChat{ChatID: typed.ChatID}
		}
	case *tg.PeerChannel:
		if entity, ok := x.chats[typed.ChannelID]; ok && entity.peer != nil {
			return cloneInputPeer(entity.peer)
		}
	}

	return nil
}
