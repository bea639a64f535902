package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/contextual-writer/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "writer.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedUser(t *testing.T, repo Repository, userID string, lastSeen time.Time) {
	t.Helper()
	err := repo.UpsertUser(context.Background(), &domain.User{
		UserID:     userID,
		Username:   "anon-" + userID,
		LastSeenAt: lastSeen,
		CreatedAt:  lastSeen,
		UpdatedAt:  lastSeen,
	})
	if err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	seedUser(t, repo, "u1", time.Now())

	got, err := repo.GetCredential(ctx, "u1")
	if err != nil || got != nil {
		t.Fatalf("expected no credential, got %+v err=%v", got, err)
	}

	if err := repo.PutCredential(ctx, &domain.Credential{UserID: "u1", APIKey: "key-1"}); err != nil {
		t.Fatalf("PutCredential failed: %v", err)
	}
	if err := repo.PutCredential(ctx, &domain.Credential{UserID: "u1", APIKey: "key-2"}); err != nil {
		t.Fatalf("PutCredential overwrite failed: %v", err)
	}

	got, err = repo.GetCredential(ctx, "u1")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if got == nil || got.APIKey != "key-2" {
		t.Fatalf("expected key-2, got %+v", got)
	}

	if err := repo.DeleteCredential(ctx, "u1"); err != nil {
		t.Fatalf("DeleteCredential failed: %v", err)
	}
	got, err = repo.GetCredential(ctx, "u1")
	if err != nil || got != nil {
		t.Fatalf("expected credential removed, got %+v err=%v", got, err)
	}
}

func TestDocumentOptimisticVersioning(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	seedUser(t, repo, "u1", time.Now())

	doc := &domain.Document{ID: "d1", UserID: "u1", Text: "Once upon a time"}
	if err := repo.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if doc.Version != 1 {
		t.Fatalf("expected version 1, got %d", doc.Version)
	}

	stale := *doc
	doc.Text += " there was a lighthouse."
	if err := repo.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}
	if doc.Version != 2 {
		t.Fatalf("expected version 2 after update, got %d", doc.Version)
	}

	stale.Text = "overwritten"
	if err := repo.UpdateDocument(ctx, &stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, err := repo.GetDocument(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.Text != "Once upon a time there was a lighthouse." {
		t.Fatalf("stale write leaked into document: %q", got.Text)
	}
}

func TestDocumentsAreScopedToOwner(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	seedUser(t, repo, "u1", time.Now())
	seedUser(t, repo, "u2", time.Now())

	if err := repo.CreateDocument(ctx, &domain.Document{ID: "d1", UserID: "u1"}); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	if _, err := repo.GetDocument(ctx, "u2", "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign document, got %v", err)
	}
	if err := repo.DeleteDocument(ctx, "u2", "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting foreign document, got %v", err)
	}
	if err := repo.UpdateDocument(ctx, &domain.Document{ID: "d1", UserID: "u2", Version: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating foreign document, got %v", err)
	}

	docs, err := repo.ListDocuments(ctx, "u1")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
}

func TestFlowRunsAndInactiveCleanup(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	seedUser(t, repo, "old", time.Now().Add(-48*time.Hour))
	seedUser(t, repo, "fresh", time.Now())

	for _, userID := range []string{"old", "fresh"} {
		if err := repo.RecordFlowRun(ctx, &domain.FlowRun{
			UserID: userID, Flow: "text_continuation", Status: domain.FlowRunOK, DurationMs: 12,
		}); err != nil {
			t.Fatalf("RecordFlowRun failed: %v", err)
		}
	}
	if err := repo.CreateDocument(ctx, &domain.Document{ID: "old-doc", UserID: "old"}); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	deleted, err := repo.DeleteInactiveUsers(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteInactiveUsers failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 user deleted, got %d", deleted)
	}

	if user, _ := repo.GetUser(ctx, "old"); user != nil {
		t.Fatal("expected inactive user to be removed")
	}
	if _, err := repo.GetDocument(ctx, "old", "old-doc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected inactive user's document to cascade, got %v", err)
	}

	runs, err := repo.ListFlowRuns(ctx, "fresh", 10)
	if err != nil {
		t.Fatalf("ListFlowRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != domain.FlowRunOK {
		t.Fatalf("unexpected flow runs: %+v", runs)
	}
}
