package imagebot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"pepebot/pkg/gallery"
	"pepebot/pkg/memeapi"
)

const (
	// ReplyCollectionUnavailable is sent when the cached collection cannot serve a pick.
	ReplyCollectionUnavailable = "Internal error: image collection unavailable."
	// ReplyLiveQueryFailed is sent when the live query fails for any reason.
	ReplyLiveQueryFailed = "Error."
	// ReplyUnrecognized is sent for commands outside the closed command set.
	ReplyUnrecognized = "Unmatched application command name"
)

// CollectionStore is the read side of the gallery cache.
type CollectionStore interface {
	// Get returns the cached collection or gallery.ErrCacheNotReady.
	Get() (gallery.Collection, error)
	// Ready reports whether the collection was initialized.
	Ready() bool
}

// LiveQuerier runs one live meme lookup.
type LiveQuerier interface {
	// Query fetches one meme for topic. Empty topic means no topic.
	Query(ctx context.Context, topic string) (memeapi.Meme, error)
}

// Dispatch produces the reply text for one command.
//
// It never fails: every error path maps to a fixed reply and a log line.
func (m *Module) Dispatch(ctx context.Context, command Command) string {
	logger := m.logger.With(
		"dispatch_id", uuid.NewString(),
		"command", command.Name,
		"kind", command.Kind.String(),
	)

	switch command.Kind {
	case KindCachedImage:
		return m.dispatchCachedImage(ctx, logger)
	case KindLiveImage:
		return m.dispatchLiveImage(ctx, logger, command.Topic)
	default:
		logger.WarnContext(ctx, "imagebot unrecognized command")
		return ReplyUnrecognized
	}
}

func (m *Module) dispatchCachedImage(ctx context.Context, logger *slog.Logger) string {
	collection, err := m.store.Get()
	if err != nil {
		logger.ErrorContext(ctx, "imagebot image collection unavailable", "error", err)
		return ReplyCollectionUnavailable
	}

	entry, err := gallery.Select(collection, m.rng)
	if err != nil {
		if errors.Is(err, gallery.ErrEmptyCollection) {
			logger.ErrorContext(ctx, "imagebot image collection is empty", "collection_id", collection.ID())
		} else {
			logger.ErrorContext(ctx, "imagebot select image failed", "error", err)
		}
		return ReplyCollectionUnavailable
	}

	logger.DebugContext(ctx, "imagebot selected cached image", "entry_id", entry.ID, "link", entry.Link)

	return entry.Link
}

func (m *Module) dispatchLiveImage(ctx context.Context, logger *slog.Logger, topic string) string {
	meme, err := m.querier.Query(ctx, topic)
	if err != nil {
		logger.WarnContext(ctx, "imagebot live query failed", "topic", topic, "error", err)
		return ReplyLiveQueryFailed
	}

	logger.DebugContext(ctx, "imagebot live query served",
		"topic", topic,
		"subreddit", meme.Subreddit,
		"post_link", meme.PostLink,
	)

	return meme.URL
}
