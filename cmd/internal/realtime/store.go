package realtime

import (
	"context"
	"errors"
	"time"
)

// ConversationType discriminates the two addressing families.
type ConversationType string

const (
	ConversationDirect       ConversationType = "DIRECT"
	ConversationGroupContext ConversationType = "GROUP_CONTEXT"
)

// ContextKind names the external collaborator that provisioned a
// group-context conversation.
type ContextKind string

const (
	ContextProject    ContextKind = "project"
	ContextGroup      ContextKind = "group"
	ContextSharedLink ContextKind = "bond_link"
)

// Sentinel errors surfaced by Store implementations.
var (
	ErrConversationNotFound = errors.New("realtime: conversation not found")
	ErrMessageNotFound      = errors.New("realtime: message not found")
)

// Conversation is an addressable message thread.
type Conversation struct {
	ID           string
	Type         ConversationType
	Participants []string

	// Exactly one context field is set for GROUP_CONTEXT conversations;
	// both are empty for DIRECT.
	ContextKind ContextKind
	ContextID   string

	LastMessageID string
	CreatedAt     time.Time
}

// Message is immutable once created except for its Seen flag.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	ImageURLs      []string
	VideoURLs      []string
	PDFURLs        []string
	Seen           bool
	CreatedAt      time.Time
}

// Profile holds the participant display fields resolvable from the external
// identity system.
type Profile struct {
	ID           string
	Name         string
	Email        string
	ProfileImage string
}

// CreateMessageInput describes a message create request.
type CreateMessageInput struct {
	ConversationID string
	SenderID       string
	Text           string
	ImageURLs      []string
	VideoURLs      []string
	PDFURLs        []string
	Now            time.Time
}

// Store is the narrow persistence contract the core requires from the
// external transactional store.
//
// Uniqueness guarantees required from implementations:
//   - at most one DIRECT conversation per unordered participant pair
//   - at most one GROUP_CONTEXT conversation per (kind, context id)
//
// FindOrCreateDirect must be effectively atomic: concurrent first contact
// from both sides of a pair resolves to the same conversation id.
type Store interface {
	FindOrCreateDirect(ctx context.Context, userA, userB string) (Conversation, error)
	FindByContext(ctx context.Context, kind ContextKind, contextID string) (Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)

	CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error)
	SetLastMessage(ctx context.Context, conversationID, messageID string) error
	GetMessage(ctx context.Context, messageID string) (Message, error)

	// MarkSeen flips seen on every unread message in the conversation
	// authored by authorID, as one bulk update. It returns the number of
	// messages affected; zero is not an error.
	MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error)

	// CountUnseen counts unread messages in the conversation authored by
	// someone other than viewerID.
	CountUnseen(ctx context.Context, conversationID, viewerID string) (int64, error)

	// FetchProfiles resolves display fields for the given user ids.
	// Unknown ids are omitted from the result.
	FetchProfiles(ctx context.Context, userIDs []string) ([]Profile, error)

	Close() error
}
