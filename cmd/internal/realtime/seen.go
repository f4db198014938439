package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// SeenSync is the read-state synchronizer: it applies a bulk "seen" update
// and pushes refreshed summaries to both sides of the conversation.
type SeenSync struct {
	log    *slog.Logger
	store  Store
	fanout *Fanout
}

// NewSeenSync constructs a SeenSync.
func NewSeenSync(log *slog.Logger, store Store, fanout *Fanout) *SeenSync {
	return &SeenSync{log: log, store: store, fanout: fanout}
}

// MarkSeen flips every unread message in the conversation authored by
// authorID as seen, as one bulk update, then re-projects the conversation
// for both readerID and authorID. A zero-row update still re-projects: the
// operation is an idempotent no-op, not an error.
func (s *SeenSync) MarkSeen(ctx context.Context, conversationID, authorID, readerID string) error {
	conversationID = strings.TrimSpace(conversationID)
	authorID = strings.TrimSpace(authorID)
	if conversationID == "" || authorID == "" {
		return errors.New("realtime: missing conversation or author id")
	}

	n, err := s.store.MarkSeen(ctx, conversationID, authorID)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	if n > 0 {
		metricSeenUpdates.Inc()
	}

	s.log.Debug("seen.applied",
		"conversation_id", conversationID, "author_id", authorID, "reader_id", readerID, "updated", n)

	s.fanout.DeliverSummaries(ctx, conversationID, readerID, authorID)
	return nil
}
