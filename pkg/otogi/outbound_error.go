package otogi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OutboundOperation identifies one outbound dispatcher operation type.
type OutboundOperation string

const (
	// OutboundOperationSendMessage identifies SendMessage operations.
	OutboundOperationSendMessage OutboundOperation = "send_message"
	// OutboundOperationSetCommands identifies command menu publication.
	OutboundOperationSetCommands OutboundOperation = "set_commands"
)

// OutboundErrorKind describes coarse-grained outbound failure classification.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited indicates platform-side rate limiting.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindTemporary indicates a transient failure.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent indicates a failure that will not succeed on resend.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
	// OutboundErrorKindUnknown indicates unclassified failure.
	OutboundErrorKindUnknown OutboundErrorKind = "unknown"
)

// OutboundError carries structured metadata for one failed outbound operation.
type OutboundError struct {
	// Operation identifies which dispatcher operation failed.
	Operation OutboundOperation
	// Kind classifies the failure.
	Kind OutboundErrorKind
	// Platform identifies which destination platform produced the failure.
	Platform Platform
	// SinkID identifies which configured sink produced the failure when known.
	SinkID string
	// RetryAfter carries the platform's suggested delay for rate-limited failures.
	RetryAfter time.Duration
	// Code carries the platform RPC/status code when known.
	Code int
	// Type carries the platform error type token when known.
	Type string
	// Cause is the wrapped platform/transport error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 6)
	if e.Operation != "" {
		fields = append(fields, "operation="+string(e.Operation))
	}
	if e.Kind != "" {
		fields = append(fields, "kind="+string(e.Kind))
	}
	if e.Platform != "" {
		fields = append(fields, "platform="+string(e.Platform))
	}
	if e.SinkID != "" {
		fields = append(fields, "sink_id="+e.SinkID)
	}
	if e.RetryAfter > 0 {
		fields = append(fields, "retry_after="+e.RetryAfter.String())
	}
	if e.Code != 0 {
		fields = append(fields, fmt.Sprintf("code=%d", e.Code))
	}
	if e.Type != "" {
		fields = append(fields, "type="+e.Type)
	}

	summary := "outbound error"
	if len(fields) > 0 {
		summary += ": " + strings.Join(fields, " ")
	}
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsOutboundError extracts one OutboundError from wrapped error chains.
func AsOutboundError(err error) (*OutboundError, bool) {
	var outboundErr *OutboundError
	if errors.As(err, &outboundErr) && outboundErr != nil {
		return outboundErr, true
	}

	return nil, false
}

// AsOutboundRateLimit reports whether err is a rate-limited outbound failure.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	outboundErr, ok := AsOutboundError(err)
	if !ok || outboundErr.Kind != OutboundErrorKindRateLimited {
		return 0, false
	}

	return outboundErr.RetryAfter, true
}
