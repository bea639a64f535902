// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/contextual-writer/internal/domain"
)

var (
	// ErrNotFound is returned when a document does not exist for the requesting user.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when an update carries a stale document version.
	ErrVersionConflict = errors.New("document version conflict")
)

// Repository defines the interface for persisting writer data.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetCredential returns the stored model credential. Returns nil, nil when absent.
	GetCredential(ctx context.Context, userID string) (*domain.Credential, error)

	// PutCredential stores or replaces the model credential for a user.
	PutCredential(ctx context.Context, cred *domain.Credential) error

	// DeleteCredential removes the stored credential.
	DeleteCredential(ctx context.Context, userID string) error

	// CreateDocument inserts a new document at version 1.
	CreateDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument returns a document owned by userID or ErrNotFound.
	GetDocument(ctx context.Context, userID, docID string) (*domain.Document, error)

	// ListDocuments returns the user's documents, most recently updated first.
	ListDocuments(ctx context.Context, userID string) ([]*domain.Document, error)

	// UpdateDocument writes doc if its Version matches the stored version and
	// bumps Version on success. Returns ErrVersionConflict on mismatch.
	UpdateDocument(ctx context.Context, doc *domain.Document) error

	// DeleteDocument removes a document or returns ErrNotFound.
	DeleteDocument(ctx context.Context, userID, docID string) error

	// RecordFlowRun appends a flow invocation record.
	RecordFlowRun(ctx context.Context, run *domain.FlowRun) error

	// ListFlowRuns returns the most recent flow runs for a user.
	ListFlowRuns(ctx context.Context, userID string, limit int) ([]*domain.FlowRun, error)

	// DeleteInactiveUsers removes users idle for longer than ttl with their data.
	DeleteInactiveUsers(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
