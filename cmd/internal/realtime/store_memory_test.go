package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInMemoryStore_FindOrCreateDirectConcurrent(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	const n = 64
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := store.FindOrCreateDirect(ctx, a, b)
			if err != nil {
				t.Errorf("find-or-create: %v", err)
				return
			}
			ids[i] = conv.ID
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("duplicate direct conversation: %q vs %q", ids[0], ids[i])
		}
	}
}

func TestInMemoryStore_FindOrCreateDirectRejectsSelfPair(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	if _, err := store.FindOrCreateDirect(context.Background(), "u1", "u1"); err == nil {
		t.Fatalf("want error for self pair")
	}
	if _, err := store.FindOrCreateDirect(context.Background(), "u1", " "); err == nil {
		t.Fatalf("want error for blank participant")
	}
}

func TestInMemoryStore_MessageLifecycle(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	conv, err := store.FindOrCreateDirect(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}

	now := time.Now().UTC()
	msg, err := store.CreateMessage(ctx, CreateMessageInput{
		ConversationID: conv.ID,
		SenderID:       "u1",
		Text:           "hello",
		ImageURLs:      []string{"https://cdn/img.png"},
		Now:            now,
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if msg.Seen {
		t.Fatalf("new message must start unseen")
	}

	if err := store.SetLastMessage(ctx, conv.ID, msg.ID); err != nil {
		t.Fatalf("set last message: %v", err)
	}
	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.LastMessageID != msg.ID {
		t.Fatalf("last message=%q want %q", got.LastMessageID, msg.ID)
	}

	back, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if back.Text != "hello" || len(back.ImageURLs) != 1 {
		t.Fatalf("message round trip mismatch: %+v", back)
	}
}

func TestInMemoryStore_SetLastMessageMissingTargets(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.SetLastMessage(ctx, "nope", "m1"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err=%v want ErrConversationNotFound", err)
	}

	conv, err := store.FindOrCreateDirect(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	if err := store.SetLastMessage(ctx, conv.ID, "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("err=%v want ErrMessageNotFound", err)
	}
}

func TestInMemoryStore_MarkSeenAndCountUnseen(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	conv, err := store.FindOrCreateDirect(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}

	for range 3 {
		if _, err := store.CreateMessage(ctx, CreateMessageInput{ConversationID: conv.ID, SenderID: "u1", Text: "x"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := store.CreateMessage(ctx, CreateMessageInput{ConversationID: conv.ID, SenderID: "u2", Text: "y"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// u2's inbox view: three unread from u1.
	n, err := store.CountUnseen(ctx, conv.ID, "u2")
	if err != nil {
		t.Fatalf("count unseen: %v", err)
	}
	if n != 3 {
		t.Fatalf("unseen=%d want 3", n)
	}

	updated, err := store.MarkSeen(ctx, conv.ID, "u1")
	if err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if updated != 3 {
		t.Fatalf("updated=%d want 3", updated)
	}

	// Second pass is an idempotent no-op.
	updated, err = store.MarkSeen(ctx, conv.ID, "u1")
	if err != nil {
		t.Fatalf("mark seen again: %v", err)
	}
	if updated != 0 {
		t.Fatalf("updated=%d want 0", updated)
	}

	n, err = store.CountUnseen(ctx, conv.ID, "u2")
	if err != nil {
		t.Fatalf("count unseen: %v", err)
	}
	if n != 0 {
		t.Fatalf("unseen=%d want 0", n)
	}

	// u1 still has one unread from u2.
	n, err = store.CountUnseen(ctx, conv.ID, "u1")
	if err != nil {
		t.Fatalf("count unseen: %v", err)
	}
	if n != 1 {
		t.Fatalf("unseen=%d want 1", n)
	}
}

func TestInMemoryStore_FetchProfilesOrderedSubset(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	store.SeedProfile(Profile{ID: "u2", Name: "Beth"})
	store.SeedProfile(Profile{ID: "u1", Name: "Ana"})

	got, err := store.FetchProfiles(context.Background(), []string{"u2", "u1", "ghost"})
	if err != nil {
		t.Fatalf("fetch profiles: %v", err)
	}
	if len(got) != 2 || got[0].ID != "u1" || got[1].ID != "u2" {
		t.Fatalf("profiles=%+v want u1,u2 in id order", got)
	}
}
