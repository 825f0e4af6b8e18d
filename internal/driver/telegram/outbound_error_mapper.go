package telegram

import (
	"errors"
	"strings"

	"pepebot/pkg/otogi"

	"github.com/gotd/td/tgerr"
)

// mapTelegramOutboundError wraps an RPC failure into *otogi.OutboundError.
//
// Request validation errors pass through unchanged.
func mapTelegramOutboundError(
	operation otogi.OutboundOperation,
	sink otogi.EventSink,
	err error,
) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, otogi.ErrInvalidOutboundRequest) {
		return err
	}

	outboundErr := &otogi.OutboundError{
		Operation: operation,
		Kind:      otogi.OutboundErrorKindUnknown,
		Platform:  sink.Platform,
		SinkID:    sink.ID,
		Cause:     err,
	}

	rpcErr, ok := tgerr.As(err)
	if ok {
		outboundErr.Code = rpcErr.Code
		outboundErr.Type = rpcErr.Type
		outboundErr.Kind = classifyTelegramRPCError(rpcErr)
	}
	if retryAfter, isFlood := tgerr.AsFloodWait(err); isFlood {
		outboundErr.Kind = otogi.OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter
	}

	return outboundErr
}

func classifyTelegramRPCError(rpcErr *tgerr.Error) otogi.OutboundErrorKind {
	if rpcErr == nil {
		return otogi.OutboundErrorKindUnknown
	}

	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	switch {
	case rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD"):
		return otogi.OutboundErrorKindRateLimited
	case rpcErr.Code == 303 || rpcErr.Code >= 500:
		return otogi.OutboundErrorKindTemporary
	case rpcErr.Code >= 400 && rpcErr.Code <= 406:
		return otogi.OutboundErrorKindPermanent
	default:
		return otogi.OutboundErrorKindUnknown
	}
}
