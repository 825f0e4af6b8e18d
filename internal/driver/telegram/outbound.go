package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"pepebot/pkg/otogi"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
)

const defaultOutboundTimeout = 3 * time.Second

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// WithSinkRef configures the sink identity reported in outbound errors.
func WithSinkRef(ref otogi.EventSink) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.sink = ref
		if cfg.sink.Platform == "" {
			cfg.sink.Platform = DriverPlatform
		}
	}
}

// SinkDispatcher adapts neutral outbound operations to Telegram RPC calls.
type SinkDispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	telegram outboundRPC
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
	sink       otogi.EventSink
}

// NewOutboundDispatcher creates a Telegram outbound dispatcher using gotd client APIs.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client.API()), peers, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		sink:       sinkRef(DriverType),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{
		cfg:      cfg,
		peers:    peers,
		telegram: rpc,
	}, nil
}

// SendMessage publishes a text message to a Telegram conversation.
//
// RPC failures are returned as *otogi.OutboundError so callers can tell flood
// waits from permanent rejections.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request otogi.SendMessageRequest,
) (*otogi.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}

	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message resolve peer: %w", err)
	}

	replyTo := 0
	if request.ReplyToMessageID != "" {
		replyTo, err = parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return nil, fmt.Errorf("send message parse reply id %s: %w", request.ReplyToMessageID, err)
		}
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	id, err := d.telegram.SendText(rpcCtx, peer, sendText{
		text:      request.Text,
		replyTo:   replyTo,
		noWebpage: request.DisableLinkPreview,
		silent:    request.Silent,
	})
	if err != nil {
		return nil, fmt.Errorf(
			"send message to %s: %w",
			request.Target.Conversation.ID,
			mapTelegramOutboundError(otogi.OutboundOperationSendMessage, d.cfg.sink, err),
		)
	}

	d.logOutbound(
		ctx,
		otogi.OutboundOperationSendMessage,
		"conversation", request.Target.Conversation.ID,
		"conversation_type", request.Target.Conversation.Type,
		"message_id", id,
		"reply_to_message_id", request.ReplyToMessageID,
	)

	return &otogi.OutboundMessage{
		ID:     strconv.Itoa(id),
		Target: request.Target,
	}, nil
}

func (d *SinkDispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.cfg.rpcTimeout)
}

func (d *SinkDispatcher) resolvePeer(target otogi.OutboundTarget) (tg.InputPeerClass, error) {
	if target.Sink != nil && target.Sink.Platform != "" && target.Sink.Platform != DriverPlatform {
		return nil, fmt.Errorf("%w: platform %s", otogi.ErrOutboundUnsupported, target.Sink.Platform)
	}

	peer, err := d.peers.Resolve(target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation %s: %w", target.Conversation.ID, err)
	}

	return peer, nil
}

func (d *SinkDispatcher) logOutbound(ctx context.Context, operation otogi.OutboundOperation, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 4+len(attrs))
	values = append(values, "operation", operation, "platform", DriverPlatform)
	values = append(values, attrs...)
	d.cfg.logger.DebugContext(ctx, "telegram outbound operation", values...)
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id: %w", otogi.ErrInvalidOutboundRequest, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id", otogi.ErrInvalidOutboundRequest)
	}

	return value, nil
}

// sendText is the Telegram-shaped form of one text send.
type sendText struct {
	text      string
	replyTo   int
	noWebpage bool
	silent    bool
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, request sendText) (int, error)
}

type gotdOutboundRPC struct {
	raw  *tg.Client
	rand io.Reader
}

func newGotdOutboundRPC(raw *tg.Client) gotdOutboundRPC {
	return gotdOutboundRPC{
		raw:  raw,
		rand: crypto.DefaultRand(),
	}
}

func (r gotdOutboundRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	request sendText,
) (int, error) {
	sendRequest := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   request.text,
		NoWebpage: request.noWebpage,
		Silent:    request.silent,
	}
	if request.replyTo > 0 {
		sendRequest.ReplyTo = &tg.InputReplyToMessage{
			ReplyToMsgID: request.replyTo,
		}
	}

	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	sendRequest.RandomID = randomID

	updates, err := r.raw.MessagesSendMessage(ctx, sendRequest)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}
