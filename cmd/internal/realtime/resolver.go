package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ResolvedConversation is the resolver output consumed by fan-out: the one
// conversation an addressing value denotes, plus its participant list.
type ResolvedConversation struct {
	Conversation Conversation
	Addressing   Addressing
}

// Resolver maps an addressing value to exactly one conversation.
//
// Direct conversations are created lazily on first contact; the store's
// find-or-create must be atomic so concurrent first contact from both sides
// of a pair cannot produce duplicates. Group-context conversations are
// provisioned by an external collaborator and are lookup-only here.
type Resolver struct {
	log   *slog.Logger
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(log *slog.Logger, store Store) *Resolver {
	return &Resolver{log: log, store: store}
}

// Resolve finds or creates the conversation denoted by addr on behalf of
// callerID.
func (r *Resolver) Resolve(ctx context.Context, callerID string, addr Addressing) (ResolvedConversation, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return ResolvedConversation{}, errors.New("realtime: missing caller id")
	}
	if addr.ID == "" {
		return ResolvedConversation{}, fmt.Errorf("%w: empty addressing id", ErrInvalidAddressing)
	}

	if addr.Kind == AddressDirect {
		if addr.ID == callerID {
			return ResolvedConversation{}, fmt.Errorf("%w: receiver is the caller", ErrInvalidAddressing)
		}
		conv, err := r.store.FindOrCreateDirect(ctx, callerID, addr.ID)
		if err != nil {
			return ResolvedConversation{}, fmt.Errorf("resolve direct: %w", err)
		}
		return ResolvedConversation{Conversation: conv, Addressing: addr}, nil
	}

	conv, err := r.store.FindByContext(ctx, addr.ContextKind(), addr.ID)
	if errors.Is(err, ErrConversationNotFound) {
		// Context conversations are never invented by chat.
		return ResolvedConversation{}, err
	}
	if err != nil {
		return ResolvedConversation{}, fmt.Errorf("resolve %s: %w", addr.Kind, err)
	}
	return ResolvedConversation{Conversation: conv, Addressing: addr}, nil
}
