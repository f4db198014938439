package realtime

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a Store for dev and tests. It enforces the same
// uniqueness guarantees as the Postgres store: one DIRECT conversation per
// unordered participant pair, one GROUP_CONTEXT conversation per context id.
type InMemoryStore struct {
	mu sync.Mutex

	conversations map[string]*Conversation
	directIndex   map[string]string // sorted pair key -> conversation id
	contextIndex  map[string]string // kind ":" context id -> conversation id
	messages      map[string]*Message
	byConv        map[string][]string // conversation id -> message ids, append order
	profiles      map[string]Profile
}

// NewInMemoryStore constructs an empty in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
		directIndex:   make(map[string]string),
		contextIndex:  make(map[string]string),
		messages:      make(map[string]*Message),
		byConv:        make(map[string][]string),
		profiles:      make(map[string]Profile),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// directKey builds the unordered-pair uniqueness key.
func directKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

func contextKey(kind ContextKind, id string) string {
	return string(kind) + ":" + id
}

// SeedContextConversation provisions a group-context conversation the way
// the external collaborator would. Intended for tests and dev fixtures.
func (s *InMemoryStore) SeedContextConversation(kind ContextKind, contextID string, participants []string) (Conversation, error) {
	if contextID == "" || kind == "" {
		return Conversation{}, errors.New("realtime: missing context kind or id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := contextKey(kind, contextID)
	if id, ok := s.contextIndex[key]; ok {
		return *s.conversations[id], nil
	}

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		return Conversation{}, err
	}
	conv := &Conversation{
		ID:           id,
		Type:         ConversationGroupContext,
		Participants: append([]string(nil), participants...),
		ContextKind:  kind,
		ContextID:    contextID,
		CreatedAt:    time.Now().UTC(),
	}
	s.conversations[id] = conv
	s.contextIndex[key] = id
	return *conv, nil
}

// SeedProfile registers a user profile for FetchProfiles resolution.
func (s *InMemoryStore) SeedProfile(p Profile) {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
}

// FindOrCreateDirect returns the one DIRECT conversation for the unordered
// pair, creating it atomically on first contact.
func (s *InMemoryStore) FindOrCreateDirect(ctx context.Context, userA, userB string) (Conversation, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" || userA == userB {
		return Conversation{}, errors.New("realtime: invalid direct pair")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := directKey(userA, userB)
	if id, ok := s.directIndex[key]; ok {
		return *s.conversations[id], nil
	}

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		return Conversation{}, err
	}
	conv := &Conversation{
		ID:           id,
		Type:         ConversationDirect,
		Participants: []string{userA, userB},
		CreatedAt:    time.Now().UTC(),
	}
	s.conversations[id] = conv
	s.directIndex[key] = id
	return *conv, nil
}

// FindByContext looks up the GROUP_CONTEXT conversation for a context id.
func (s *InMemoryStore) FindByContext(ctx context.Context, kind ContextKind, contextID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.contextIndex[contextKey(kind, contextID)]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return *s.conversations[id], nil
}

// GetConversation returns a conversation by id.
func (s *InMemoryStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return *conv, nil
}

// CreateMessage persists a new message.
func (s *InMemoryStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return Message{}, errors.New("realtime: invalid message input")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[in.ConversationID]; !ok {
		return Message{}, ErrConversationNotFound
	}

	id, err := NewULID(now)
	if err != nil {
		return Message{}, err
	}
	msg := &Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		ImageURLs:      append([]string(nil), in.ImageURLs...),
		VideoURLs:      append([]string(nil), in.VideoURLs...),
		PDFURLs:        append([]string(nil), in.PDFURLs...),
		CreatedAt:      now,
	}
	s.messages[id] = msg
	s.byConv[in.ConversationID] = append(s.byConv[in.ConversationID], id)
	return *msg, nil
}

// SetLastMessage advances the conversation's last-message pointer.
// The target message must already exist.
func (s *InMemoryStore) SetLastMessage(ctx context.Context, conversationID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if _, ok := s.messages[messageID]; !ok {
		return ErrMessageNotFound
	}
	conv.LastMessageID = messageID
	return nil
}

// GetMessage returns a message by id.
func (s *InMemoryStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return *msg, nil
}

// MarkSeen bulk-flips unread messages authored by authorID. The single
// critical section makes the update atomic from a reader's point of view.
func (s *InMemoryStore) MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if m.SenderID == authorID && !m.Seen {
			m.Seen = true
			n++
		}
	}
	return n, nil
}

// CountUnseen counts unread messages authored by someone other than viewerID.
func (s *InMemoryStore) CountUnseen(ctx context.Context, conversationID, viewerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if m.SenderID != viewerID && !m.Seen {
			n++
		}
	}
	return n, nil
}

// FetchProfiles resolves known profiles for the given ids, in id order.
func (s *InMemoryStore) FetchProfiles(ctx context.Context, userIDs []string) ([]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Profile, 0, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
