package memory

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jmcleod/goaltracker/storage"
	"github.com/jmcleod/goaltracker/storage/storagetest"
)

func TestMemoryRepositoryConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return NewRepository()
	})
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	env := &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: []byte("nonce1234567"), Ciphertext: []byte("ciphertext")}

	if err := repo.Sessions().Put(ctx, "s1", env, time.Time{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := repo.Sessions().Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got.Nonce[0] = 'X'
	got2, _ := repo.Sessions().Get(ctx, "s1")
	if got2.Nonce[0] == 'X' {
		t.Error("memory repository should return clones of envelopes")
	}
	if !bytes.Equal(env.Ciphertext, got2.Ciphertext) {
		t.Errorf("ciphertext mismatch: %q", got2.Ciphertext)
	}

	owner := storage.OwnerID("u1")
	id, err := repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "original"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	g, _ := repo.Goals().Get(ctx, id, owner)
	g.Title = "mutated"
	g2, _ := repo.Goals().Get(ctx, id, owner)
	if g2.Title != "original" {
		t.Errorf("stored goal changed through returned pointer: %q", g2.Title)
	}
}

func TestMemoryRepositoryZeroExpiryNeverExpires(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	env := &storage.Envelope{Ver: 1, Scheme: "aes256gcm"}
	if err := repo.Sessions().Put(ctx, "forever", env, time.Time{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	n, err := repo.Sessions().DeleteExpired(ctx, time.Now().Add(1000*time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no expired sessions, got %d", n)
	}
}
