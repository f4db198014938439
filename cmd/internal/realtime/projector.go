package realtime

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	v1 "bondy/shared/contracts/chat/v1"
)

// Projector computes the per-viewer conversation summary that drives client
// inbox lists. Summaries are never cached: the unseen count and the "other
// participant" are viewer-relative.
type Projector struct {
	store Store
}

// NewProjector constructs a Projector.
func NewProjector(store Store) *Projector {
	return &Projector{store: store}
}

// Project builds the summary of conversationID as seen by viewerID.
// It returns (nil, nil) when no such conversation exists.
//
// The unseen count, the participant-profile resolution, and the last-message
// fetch depend only on stored state, so they run concurrently.
func (p *Projector) Project(ctx context.Context, conversationID, viewerID string) (*v1.ConversationSummaryPayload, error) {
	conv, err := p.store.GetConversation(ctx, conversationID)
	if errors.Is(err, ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	var (
		unseen   int64
		other    *v1.UserData
		lastMsg  *v1.MessagePayload
		grp, gtx = errgroup.WithContext(ctx)
	)

	grp.Go(func() error {
		n, err := p.store.CountUnseen(gtx, conv.ID, viewerID)
		if err != nil {
			return fmt.Errorf("count unseen: %w", err)
		}
		unseen = n
		return nil
	})

	if conv.Type == ConversationDirect {
		grp.Go(func() error {
			u, err := p.otherParticipant(gtx, conv, viewerID)
			if err != nil {
				return err
			}
			other = u
			return nil
		})
	}

	if conv.LastMessageID != "" {
		grp.Go(func() error {
			m, err := p.store.GetMessage(gtx, conv.LastMessageID)
			if errors.Is(err, ErrMessageNotFound) {
				// The pointer is advanced only after the message write,
				// so this indicates an external deletion. Treat as absent.
				return nil
			}
			if err != nil {
				return fmt.Errorf("get last message: %w", err)
			}
			mp := messagePayload(m, nil)
			lastMsg = &mp
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}

	return &v1.ConversationSummaryPayload{
		ID:          conv.ID,
		UserData:    other,
		UnseenMsg:   unseen,
		LastMessage: lastMsg,
		Type:        string(conv.Type),
	}, nil
}

// otherParticipant resolves the viewer-facing counterpart's display fields.
// It returns nil when no distinct other participant resolves to a profile.
func (p *Projector) otherParticipant(ctx context.Context, conv Conversation, viewerID string) (*v1.UserData, error) {
	profiles, err := p.store.FetchProfiles(ctx, conv.Participants)
	if err != nil {
		return nil, fmt.Errorf("fetch profiles: %w", err)
	}
	for _, prof := range profiles {
		if prof.ID != viewerID {
			return profileUserData(prof), nil
		}
	}
	return nil, nil
}
