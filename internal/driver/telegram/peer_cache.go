package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"pepebot/pkg/otogi"

	"github.com/gotd/td/tg"
)

// peerKey identifies one conversation; Telegram user, chat and channel IDs
// live in separate namespaces, so the kind is part of the key.
type peerKey struct {
	kind otogi.ConversationType
	id   string
}

// PeerCache stores Telegram input peers discovered from inbound updates.
//
// Outbound dispatch uses it to turn a neutral reply target back into the
// input peer, access hash included, that the send RPC needs.
type PeerCache struct {
	mu    sync.RWMutex
	peers map[peerKey]tg.InputPeerClass
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{
		peers: make(map[peerKey]tg.InputPeerClass),
	}
}

// RememberEntities stores the input peers of every user and chat in index.
func (c *PeerCache) RememberEntities(index entityIndex) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range index.users {
		if user != nil {
			c.storeLocked(otogi.ConversationTypePrivate, strconv.FormatInt(userID, 10), user.AsInputPeer())
		}
	}
	for chatID, chat := range index.chats {
		c.storeLocked(chat.kind, strconv.FormatInt(chatID, 10), chat.peer)
	}
}

// RememberConversation stores one explicit conversation-to-peer mapping.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || chat.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(chat.Type, chat.ID, peer)
}

// storeLocked records peer under kind; megagroups are also reachable as channels.
func (c *PeerCache) storeLocked(kind otogi.ConversationType, id string, peer tg.InputPeerClass) {
	if peer == nil || id == "" {
		return
	}

	c.peers[peerKey{kind: kind, id: id}] = cloneInputPeer(peer)
	if _, isChannel := peer.(*tg.InputPeerChannel); isChannel && kind == otogi.ConversationTypeGroup {
		c.peers[peerKey{kind: otogi.ConversationTypeChannel, id: id}] = cloneInputPeer(peer)
	}
}

// Resolve returns an input peer for an outbound target conversation.
func (c *PeerCache) Resolve(conversation otogi.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if conversation.ID == "" || conversation.Type == "" {
		return nil, fmt.Errorf("resolve peer: invalid conversation")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, kind := range resolveOrder(conversation.Type) {
		if peer, ok := c.peers[peerKey{kind: kind, id: conversation.ID}]; ok {
			return cloneInputPeer(peer), nil
		}
	}

	return nil, fmt.Errorf("resolve peer: conversation %s/%s not found", conversation.Type, conversation.ID)
}

// resolveOrder lists the kinds to try for one conversation type; groups and
// channels fall back to each other.
func resolveOrder(kind otogi.ConversationType) []otogi.ConversationType {
	switch kind {
	case otogi.ConversationTypeGroup:
		return []otogi.ConversationType{otogi.ConversationTypeGroup, otogi.ConversationTypeChannel}
	case otogi.ConversationTypeChannel:
		return []otogi.ConversationType{otogi.ConversationTypeChannel, otogi.ConversationTypeGroup}
	default:
		return []otogi.ConversationType{kind}
	}
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerSelf:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}
