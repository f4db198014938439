package realtime

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when BONDY_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_FindOrCreateDirect_SinglePairRow(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	userA := "it-user-a-" + NewRandomHex(6)
	userB := "it-user-b-" + NewRandomHex(6)

	first, err := store.FindOrCreateDirect(ctx, userA, userB)
	if err != nil {
		t.Fatalf("find-or-create first: %v", err)
	}
	if first.Type != ConversationDirect {
		t.Fatalf("type=%q want %q", first.Type, ConversationDirect)
	}

	second, err := store.FindOrCreateDirect(ctx, userB, userA)
	if err != nil {
		t.Fatalf("find-or-create reverse: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("pair resolved to two rows: %q vs %q", first.ID, second.ID)
	}

	if cnt := mustCountDirectRows(t, pool, schema, userA, userB); cnt != 1 {
		t.Fatalf("expected 1 conversation row for the pair, got %d", cnt)
	}
}

func TestPostgresStore_FindOrCreateDirect_ConcurrentFirstContact(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	userA := "it-conc-a-" + NewRandomHex(6)
	userB := "it-conc-b-" + NewRandomHex(6)

	const n = 24

	ids := make([]string, n)
	errCh := make(chan error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()

			a, b := userA, userB
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := store.FindOrCreateDirect(ctx, a, b)
			if err != nil {
				errCh <- err
				return
			}
			ids[i] = conv.ID
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent find-or-create error: %v", err)
	}
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("duplicate direct conversation: %q vs %q", ids[0], ids[i])
		}
	}
	if cnt := mustCountDirectRows(t, pool, schema, userA, userB); cnt != 1 {
		t.Fatalf("expected 1 conversation row for the pair, got %d", cnt)
	}
}

func TestPostgresStore_ContextLookup(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	contextID := "it-proj-" + NewRandomHex(6)

	if _, err := store.FindByContext(ctx, ContextProject, contextID); err != ErrConversationNotFound {
		t.Fatalf("err=%v want ErrConversationNotFound", err)
	}

	convID := mustSeedContextRow(t, pool, schema, ContextProject, contextID, []string{"u1", "u2", "u3"})

	conv, err := store.FindByContext(ctx, ContextProject, contextID)
	if err != nil {
		t.Fatalf("find by context: %v", err)
	}
	if conv.ID != convID || conv.Type != ConversationGroupContext {
		t.Fatalf("conversation=%+v want id %q of type %q", conv, convID, ConversationGroupContext)
	}
	if len(conv.Participants) != 3 {
		t.Fatalf("participants=%v want 3", conv.Participants)
	}
}

func TestPostgresStore_MessageAndSeenFlow(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conv, err := store.FindOrCreateDirect(ctx, "it-sender-"+NewRandomHex(4), "it-reader-"+NewRandomHex(4))
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	sender, reader := conv.Participants[0], conv.Participants[1]

	var lastID string
	for i := 0; i < 3; i++ {
		msg, err := store.CreateMessage(ctx, CreateMessageInput{
			ConversationID: conv.ID,
			SenderID:       sender,
			Text:           fmt.Sprintf("m%d", i),
			ImageURLs:      []string{"https://cdn/img.png"},
			Now:            time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
		if err := store.SetLastMessage(ctx, conv.ID, msg.ID); err != nil {
			t.Fatalf("set last message %d: %v", i, err)
		}
		lastID = msg.ID
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.LastMessageID != lastID {
		t.Fatalf("last message=%q want %q", got.LastMessageID, lastID)
	}

	back, err := store.GetMessage(ctx, lastID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if back.Text != "m2" || len(back.ImageURLs) != 1 || back.Seen {
		t.Fatalf("message=%+v want m2 with one image, unseen", back)
	}

	n, err := store.CountUnseen(ctx, conv.ID, reader)
	if err != nil {
		t.Fatalf("count unseen: %v", err)
	}
	if n != 3 {
		t.Fatalf("unseen=%d want 3", n)
	}

	updated, err := store.MarkSeen(ctx, conv.ID, sender)
	if err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if updated != 3 {
		t.Fatalf("updated=%d want 3", updated)
	}

	updated, err = store.MarkSeen(ctx, conv.ID, sender)
	if err != nil {
		t.Fatalf("mark seen again: %v", err)
	}
	if updated != 0 {
		t.Fatalf("updated=%d want 0 on second pass", updated)
	}

	n, err = store.CountUnseen(ctx, conv.ID, reader)
	if err != nil {
		t.Fatalf("count unseen: %v", err)
	}
	if n != 0 {
		t.Fatalf("unseen=%d want 0", n)
	}
}

func TestPostgresStore_FetchProfiles(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mustSeedUserRow(t, pool, schema, Profile{ID: "it-u2", Name: "Beth", Email: "beth@example.com"})
	mustSeedUserRow(t, pool, schema, Profile{ID: "it-u1", Name: "Ana", ProfileImage: "https://cdn/ana.png"})

	got, err := store.FetchProfiles(ctx, []string{"it-u2", "it-u1", "it-ghost"})
	if err != nil {
		t.Fatalf("fetch profiles: %v", err)
	}
	if len(got) != 2 || got[0].ID != "it-u1" || got[1].ID != "it-u2" {
		t.Fatalf("profiles=%+v want it-u1,it-u2 in id order", got)
	}
	if got[0].ProfileImage != "https://cdn/ana.png" || got[1].Email != "beth@example.com" {
		t.Fatalf("profiles=%+v field mismatch", got)
	}
}

// ---- test helpers ----

func mustNewStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("BONDY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: BONDY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse BONDY_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	// Validate acquire quickly.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "bondy_it_" + strings.ToLower(NewRandomHex(8))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	conversations := pgIdent(schema, "conversations")
	messages := pgIdent(schema, "messages")
	users := pgIdent(schema, "users")

	// Minimal schema required by PostgresStore.
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id              TEXT PRIMARY KEY,
  type            TEXT NOT NULL CHECK (type IN ('DIRECT', 'GROUP_CONTEXT')),
  participants    TEXT[] NOT NULL,
  direct_key      TEXT,
  context_kind    TEXT,
  context_id      TEXT,
  last_message_id TEXT,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_conversations_direct_key
  ON %s (direct_key) WHERE direct_key IS NOT NULL;

CREATE UNIQUE INDEX IF NOT EXISTS uq_conversations_context
  ON %s (context_kind, context_id) WHERE context_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS %s (
  id              TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  sender_id       TEXT NOT NULL,
  text            TEXT NOT NULL DEFAULT '',
  image_urls      TEXT[] NOT NULL DEFAULT '{}',
  video_urls      TEXT[] NOT NULL DEFAULT '{}',
  pdf_urls        TEXT[] NOT NULL DEFAULT '{}',
  seen            BOOLEAN NOT NULL DEFAULT false,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_unseen
  ON %s (conversation_id, sender_id) WHERE seen = false;

CREATE TABLE IF NOT EXISTS %s (
  id            TEXT PRIMARY KEY,
  name          TEXT NOT NULL DEFAULT '',
  email         TEXT NOT NULL DEFAULT '',
  profile_image TEXT NOT NULL DEFAULT ''
);
`, conversations, conversations, conversations, messages, conversations, messages, users)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustCountDirectRows(t *testing.T, pool *pgxpool.Pool, schema, userA, userB string) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cnt int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+pgIdent(schema, "conversations")+` WHERE direct_key = $1`,
		directKey(userA, userB),
	).Scan(&cnt); err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	return cnt
}

func mustSeedContextRow(t *testing.T, pool *pgxpool.Pool, schema string, kind ContextKind, contextID string, participants []string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}
	if _, err := pool.Exec(ctx,
		`INSERT INTO `+pgIdent(schema, "conversations")+` (id, type, participants, context_kind, context_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, string(ConversationGroupContext), participants, string(kind), contextID,
	); err != nil {
		t.Fatalf("seed context conversation: %v", err)
	}
	return id
}

func mustSeedUserRow(t *testing.T, pool *pgxpool.Pool, schema string, p Profile) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx,
		`INSERT INTO `+pgIdent(schema, "users")+` (id, name, email, profile_image)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		p.ID, p.Name, p.Email, p.ProfileImage,
	); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}
