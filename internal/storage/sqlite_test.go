package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same directory and verifies
// no migration is applied twice.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_conversation_messages_profile", "idx_conversations_last_used", "idx_interactions_created"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("query index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestConversation_AppendAndGet(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendConversationMessage("Franck", ConversationMessage{Role: "user", Content: "bonjour", Timestamp: 100}, 20); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendConversationMessage("Franck", ConversationMessage{Role: "assistant", Content: "salut", Timestamp: 105}, 20); err != nil {
		t.Fatalf("append: %v", err)
	}

	c, err := s.GetConversation("Franck")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if c.CreatedAt != 100 || c.LastUsed != 105 {
		t.Errorf("created_at/last_used = %d/%d, want 100/105", c.CreatedAt, c.LastUsed)
	}
	if len(c.Messages) != 2 || c.Messages[0].Content != "bonjour" || c.Messages[1].Role != "assistant" {
		t.Errorf("messages = %+v", c.Messages)
	}
}

func TestConversation_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetConversation("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestConversation_TruncatesOldest(t *testing.T) {
	s := openTestStore(t)

	for i := range 25 {
		msg := ConversationMessage{Role: "user", Content: fmt.Sprintf("m%d", i), Timestamp: int64(i)}
		if err := s.AppendConversationMessage("Evan", msg, 20); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	c, err := s.GetConversation("Evan")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Messages) != 20 {
		t.Fatalf("got %d messages, want 20", len(c.Messages))
	}
	if c.Messages[0].Content != "m5" || c.Messages[19].Content != "m24" {
		t.Errorf("window = %q..%q, want m5..m24", c.Messages[0].Content, c.Messages[19].Content)
	}
}

func TestConversation_TruncationIsPerProfile(t *testing.T) {
	s := openTestStore(t)

	s.AppendConversationMessage("a", ConversationMessage{Role: "user", Content: "keep", Timestamp: 1}, 1)
	s.AppendConversationMessage("b", ConversationMessage{Role: "user", Content: "x", Timestamp: 2}, 1)
	s.AppendConversationMessage("b", ConversationMessage{Role: "user", Content: "y", Timestamp: 3}, 1)

	a, err := s.GetConversation("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Messages) != 1 || a.Messages[0].Content != "keep" {
		t.Errorf("profile a messages = %+v, want untouched", a.Messages)
	}
}

func TestConversation_DeleteIdle(t *testing.T) {
	s := openTestStore(t)

	s.AppendConversationMessage("old", ConversationMessage{Role: "user", Content: "x", Timestamp: 1000}, 20)
	s.AppendConversationMessage("edge", ConversationMessage{Role: "user", Content: "x", Timestamp: 2000}, 20)
	s.AppendConversationMessage("new", ConversationMessage{Role: "user", Content: "x", Timestamp: 3000}, 20)

	n, err := s.DeleteConversationsIdleBefore(2000)
	if err != nil {
		t.Fatalf("DeleteConversationsIdleBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}

	convs, err := s.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].Profile != "edge" || convs[1].Profile != "new" {
		t.Errorf("remaining = %+v, want edge and new", convs)
	}

	var orphans int
	s.db.QueryRow(`SELECT COUNT(*) FROM conversation_messages WHERE profile = 'old'`).Scan(&orphans)
	if orphans != 0 {
		t.Errorf("orphan messages = %d, want 0", orphans)
	}
}

func TestConversation_DeleteOneAndAll(t *testing.T) {
	s := openTestStore(t)

	s.AppendConversationMessage("a", ConversationMessage{Role: "user", Content: "x", Timestamp: 1}, 20)
	s.AppendConversationMessage("b", ConversationMessage{Role: "user", Content: "x", Timestamp: 1}, 20)

	if err := s.DeleteConversation("a"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := s.GetConversation("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("a still present: %v", err)
	}
	if err := s.DeleteConversation("missing"); err != nil {
		t.Errorf("DeleteConversation(missing) = %v, want nil", err)
	}

	if err := s.DeleteAllConversations(); err != nil {
		t.Fatalf("DeleteAllConversations: %v", err)
	}
	convs, _ := s.ListConversations()
	if len(convs) != 0 {
		t.Errorf("got %d conversations after delete all", len(convs))
	}
}

func TestSaveAndGetInteraction(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	in := Interaction{
		ID:               "req-1",
		CreatedAt:        now,
		Profile:          "Franck",
		Question:         "Allume la lumière du salon",
		ResponseJSON:     `{"mode":"action"}`,
		Message:          "✅ J'allume la lumière du salon.",
		ActionExecuted:   true,
		NotificationSent: true,
		DurationMs:       1234,
	}
	if err := s.SaveInteraction(in); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.GetInteraction("req-1")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("Status = %q, want default %q", got.Status, "completed")
	}
	if !got.ActionExecuted || !got.NotificationSent {
		t.Errorf("flags = %v/%v, want true/true", got.ActionExecuted, got.NotificationSent)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if got.Message != in.Message || got.DurationMs != 1234 {
		t.Errorf("got %+v", got)
	}
}

func TestGetInteractionNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetInteraction("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRecentInteractions(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i := range 5 {
		profile := "Franck"
		if i%2 == 1 {
			profile = "Evan"
		}
		s.SaveInteraction(Interaction{
			ID:        fmt.Sprintf("req-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Profile:   profile,
			Status:    "completed",
		})
	}

	all, err := s.GetRecentInteractions("", 3)
	if err != nil {
		t.Fatalf("GetRecentInteractions: %v", err)
	}
	if len(all) != 3 || all[0].ID != "req-4" {
		t.Errorf("recent = %+v, want 3 newest starting with req-4", all)
	}

	evan, err := s.GetRecentInteractions("Evan", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evan) != 2 {
		t.Errorf("got %d Evan interactions, want 2", len(evan))
	}
}
