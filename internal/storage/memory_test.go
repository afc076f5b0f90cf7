package storage

import (
	"context"
	"testing"
	"time"

	"github.com/tpmjs/omega/pkg/models"
)

func TestMemoryConversationListPagination(t *testing.T) {
	store := NewMemoryConversationStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		conv := &models.Conversation{
			ID:        "conv-" + string(rune('a'+i)),
			OwnerID:   "user-1",
			CreatedAt: base,
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Create(ctx, conv); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := store.Create(ctx, &models.Conversation{ID: "other", OwnerID: "user-2", UpdatedAt: base}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	convs, total, err := store.List(ctx, "user-1", 2, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(convs) != 2 {
		t.Fatalf("len = %d, want 2", len(convs))
	}
	// Newest first, so offset 1 starts at the second newest.
	if convs[0].ID != "conv-d" || convs[1].ID != "conv-c" {
		t.Errorf("page = %s, %s", convs[0].ID, convs[1].ID)
	}
}

func TestMemoryStoresReturnCopies(t *testing.T) {
	store := NewMemoryConversationStore()
	ctx := context.Background()

	conv := &models.Conversation{ID: "conv-1", OwnerID: "user-1"}
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _ := store.Get(ctx, "conv-1")
	got.Title = "mutated"

	again, _ := store.Get(ctx, "conv-1")
	if again.Title != "" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestMemoryMessageStoreDuplicateID(t *testing.T) {
	store := NewMemoryMessageStore()
	ctx := context.Background()

	msg := &models.Message{ID: "m1", ConversationID: "conv-1", Role: models.RoleUser}
	if err := store.Append(ctx, msg); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, msg); err != ErrAlreadyExists {
		t.Errorf("duplicate Append: got %v, want ErrAlreadyExists", err)
	}
}
