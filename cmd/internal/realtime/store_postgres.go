// Package realtime contains Bondy's realtime relay core: presence tracking,
// conversation resolution, message persistence, fan-out, and read-state
// synchronization behind the websocket gateway.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Uniqueness model:
// - conversations carries a unique index on the sorted direct-pair key and a
//   unique index on (context_kind, context_id). Duplicate-avoidance in the
//   resolver relies on these constraints, not on read-then-write.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "bondy").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "bondy",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// FindOrCreateDirect resolves the one DIRECT conversation for the unordered
// pair. The upsert keyed by the sorted pair makes lookup and creation
// atomic: concurrent first contact from both sides lands on the same row.
func (s *PostgresStore) FindOrCreateDirect(ctx context.Context, userA, userB string) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("realtime: nil store")
	}
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" || userA == userB {
		return Conversation{}, errors.New("realtime: invalid direct pair")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")

	// DO UPDATE (rather than DO NOTHING) so RETURNING always yields the
	// surviving row, whether this call created it or lost the race.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+conversations+` (id, type, participants, direct_key)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (direct_key) WHERE direct_key IS NOT NULL
		 DO UPDATE SET direct_key = EXCLUDED.direct_key
		 RETURNING id, type, participants, context_kind, context_id, last_message_id, created_at`,
		id, string(ConversationDirect), []string{userA, userB}, directKey(userA, userB),
	)
	return scanConversation(row)
}

// FindByContext looks up the GROUP_CONTEXT conversation provisioned for a
// context id. Absence is ErrConversationNotFound; chat never invents these.
func (s *PostgresStore) FindByContext(ctx context.Context, kind ContextKind, contextID string) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("realtime: nil store")
	}
	contextID = strings.TrimSpace(contextID)
	if kind == "" || contextID == "" {
		return Conversation{}, ErrConversationNotFound
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")

	row := s.pool.QueryRow(ctx,
		`SELECT id, type, participants, context_kind, context_id, last_message_id, created_at
		   FROM `+conversations+`
		  WHERE context_kind = $1 AND context_id = $2`,
		string(kind), contextID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// GetConversation returns a conversation by id.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")

	row := s.pool.QueryRow(ctx,
		`SELECT id, type, participants, context_kind, context_id, last_message_id, created_at
		   FROM `+conversations+`
		  WHERE id = $1`,
		conversationID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// CreateMessage persists a new message row.
func (s *PostgresStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("realtime: nil store")
	}
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
	id, err := NewULID(now)
	if err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, conversation_id, sender_id, text, image_urls, video_urls, pdf_urls, seen, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,
		id, in.ConversationID, in.SenderID, in.Text,
		emptyIfNil(in.ImageURLs), emptyIfNil(in.VideoURLs), emptyIfNil(in.PDFURLs), now,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		ImageURLs:      in.ImageURLs,
		VideoURLs:      in.VideoURLs,
		PDFURLs:        in.PDFURLs,
		Seen:           false,
		CreatedAt:      now,
	}, nil
}

// SetLastMessage advances the conversation's last-message pointer. Callers
// invoke this only after the message insert has committed, so the pointer
// never dangles.
func (s *PostgresStore) SetLastMessage(ctx context.Context, conversationID, messageID string) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conversations := pgIdent(s.schema, "conversations")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+conversations+` SET last_message_id = $2 WHERE id = $1`,
		conversationID, messageID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// GetMessage returns a message by id.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	var m Message
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, text, image_urls, video_urls, pdf_urls, seen, created_at
		   FROM `+messages+`
		  WHERE id = $1`,
		messageID,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.ImageURLs, &m.VideoURLs, &m.PDFURLs, &m.Seen, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// MarkSeen bulk-flips unread messages by (conversation, author, not seen) in
// a single statement, so readers never observe a partial flip.
func (s *PostgresStore) MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	messages := pgIdent(s.schema, "messages")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+messages+`
		    SET seen = true
		  WHERE conversation_id = $1 AND sender_id = $2 AND seen = false`,
		conversationID, authorID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountUnseen counts unread messages by (conversation, not author).
func (s *PostgresStore) CountUnseen(ctx context.Context, conversationID, viewerID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	messages := pgIdent(s.schema, "messages")

	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*)
		   FROM `+messages+`
		  WHERE conversation_id = $1 AND sender_id <> $2 AND seen = false`,
		conversationID, viewerID,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// FetchProfiles resolves display fields from the external identity table.
// Unknown ids are omitted.
func (s *PostgresStore) FetchProfiles(ctx context.Context, userIDs []string) ([]Profile, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	if len(userIDs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, profile_image
		   FROM `+users+`
		  WHERE id = ANY($1)
		  ORDER BY id`,
		userIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Profile, 0, len(userIDs))
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.ProfileImage); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c           Conversation
		contextKind *string
		contextID   *string
		lastMessage *string
	)
	if err := row.Scan(&c.ID, &c.Type, &c.Participants, &contextKind, &contextID, &lastMessage, &c.CreatedAt); err != nil {
		return Conversation{}, err
	}
	if contextKind != nil {
		c.ContextKind = ContextKind(*contextKind)
	}
	if contextID != nil {
		c.ContextID = *contextID
	}
	if lastMessage != nil {
		c.LastMessageID = *lastMessage
	}
	return c, nil
}

func emptyIfNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
