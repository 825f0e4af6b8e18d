package telegram

import (
	"strings"
	"sync/atomic"

	"pepebot/pkg/otogi"
)

const (
	// DriverType is the configured driver type token for the Telegram runtime.
	DriverType = "telegram"
	// DriverPlatform is the neutral otogi platform produced by the Telegram runtime.
	DriverPlatform otogi.Platform = otogi.PlatformTelegram
)

// sinkRef returns the outbound identity of the driver instance called name.
func sinkRef(name string) otogi.EventSink {
	return otogi.EventSink{
		Platform: DriverPlatform,
		ID:       name,
	}
}

// accountHandle holds the bot username once the session has resolved it.
// Updates only flow after that, so readers normally see the final value.
type accountHandle struct {
	username atomic.Pointer[string]
}

func (h *accountHandle) set(username string) {
	username = strings.TrimSpace(username)
	h.username.Store(&username)
}

func (h *accountHandle) get() string {
	if username := h.username.Load(); username != nil {
		return *username
	}

	return ""
}
