package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryCreateAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	u := &User{ID: "alice", PasswordHash: []byte("hash"), TrustedPeers: []string{"bob"}}
	if err := m.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt stamped on create")
	}

	if err := m.CreateUser(ctx, &User{ID: "alice"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := m.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "alice" || len(got.TrustedPeers) != 1 || got.TrustedPeers[0] != "bob" {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Records are cloned on the way out.
	got.TrustedPeers[0] = "mallory"
	again, _ := m.GetUser(ctx, "alice")
	if again.TrustedPeers[0] != "bob" {
		t.Fatalf("stored record mutated through a returned copy: %+v", again)
	}

	if _, err := m.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryGetUsersSorted(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"carol", "alice", "bob"} {
		if err := m.CreateUser(ctx, &User{ID: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	users, err := m.GetUsers(ctx)
	if err != nil {
		t.Fatalf("get users: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}
	for i, want := range []string{"alice", "bob", "carol"} {
		if users[i].ID != want {
			t.Fatalf("expected %s at index %d, got %s", want, i, users[i].ID)
		}
	}
}

func TestMemoryUpdateUser(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.CreateUser(ctx, &User{ID: "alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.UpdateUser(ctx, "alice", Update{TrustedPeers: []string{"bob", "carol"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := m.GetUser(ctx, "alice")
	if len(got.TrustedPeers) != 2 {
		t.Fatalf("expected trusted peers replaced, got %v", got.TrustedPeers)
	}

	// A nil slice leaves the field untouched.
	if err := m.UpdateUser(ctx, "alice", Update{}); err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	got, _ = m.GetUser(ctx, "alice")
	if len(got.TrustedPeers) != 2 {
		t.Fatalf("no-op update changed the record: %v", got.TrustedPeers)
	}

	if err := m.UpdateUser(ctx, "nobody", Update{TrustedPeers: []string{}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
