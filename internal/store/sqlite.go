package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/contextual-writer/internal/domain"
	"github.com/ashureev/contextual-writer/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen_at);

	CREATE TABLE IF NOT EXISTS credentials (
		user_id TEXT PRIMARY KEY REFERENCES users(user_id) ON DELETE CASCADE,
		api_key TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		context_text TEXT NOT NULL DEFAULT '',
		saved_context TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS flow_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		flow TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flow_runs_user ON flow_runs(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs a write with exponential backoff on SQLITE_BUSY / locked errors.
func withRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return withRetry(ctx, "upsert user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// GetCredential returns the stored model credential for a user.
func (s *SQLiteStore) GetCredential(ctx context.Context, userID string) (*domain.Credential, error) {
	var cred domain.Credential
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, api_key, updated_at FROM credentials WHERE user_id = ?`, userID,
	).Scan(&cred.UserID, &cred.APIKey, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	cred.UpdatedAt = time.Unix(updatedAt, 0)
	return &cred, nil
}

// PutCredential stores or replaces the model credential for a user.
func (s *SQLiteStore) PutCredential(ctx context.Context, cred *domain.Credential) error {
	query := `
	INSERT INTO credentials (user_id, api_key, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		api_key = excluded.api_key,
		updated_at = excluded.updated_at`

	return withRetry(ctx, "put credential", func() error {
		if _, err := s.db.ExecContext(ctx, query, cred.UserID, cred.APIKey, time.Now().Unix()); err != nil {
			return fmt.Errorf("put credential: %w", err)
		}
		return nil
	})
}

// DeleteCredential removes the stored credential.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, userID string) error {
	return withRetry(ctx, "delete credential", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("delete credential: %w", err)
		}
		return nil
	})
}

const documentColumns = `id, user_id, title, body, context_text, saved_context, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var createdAt, updatedAt int64
	if err := row.Scan(
		&doc.ID, &doc.UserID, &doc.Title, &doc.Text,
		&doc.ContextText, &doc.SavedContext, &doc.Version,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	return &doc, nil
}

// CreateDocument inserts a new document at version 1.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	doc.Version = 1

	query := `INSERT INTO documents (` + documentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return withRetry(ctx, "create document", func() error {
		_, err := s.db.ExecContext(ctx, query,
			doc.ID, doc.UserID, doc.Title, doc.Text,
			doc.ContextText, doc.SavedContext, doc.Version,
			doc.CreatedAt.Unix(), doc.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		return nil
	})
}

// GetDocument returns a document owned by userID.
func (s *SQLiteStore) GetDocument(ctx context.Context, userID, docID string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND user_id = ?`, docID, userID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the user's documents, most recently updated first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, userID string) ([]*domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = ? ORDER BY updated_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close document rows", "error", closeErr)
		}
	}()

	docs := []*domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// UpdateDocument writes doc if its Version matches the stored version.
func (s *SQLiteStore) UpdateDocument(ctx context.Context, doc *domain.Document) error {
	query := `
	UPDATE documents SET
		title = ?, body = ?, context_text = ?, saved_context = ?,
		version = version + 1, updated_at = ?
	WHERE id = ? AND user_id = ? AND version = ?`

	now := time.Now()
	var rows int64
	err := withRetry(ctx, "update document", func() error {
		result, err := s.db.ExecContext(ctx, query,
			doc.Title, doc.Text, doc.ContextText, doc.SavedContext, now.Unix(),
			doc.ID, doc.UserID, doc.Version,
		)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if rows == 0 {
		if _, getErr := s.GetDocument(ctx, doc.UserID, doc.ID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}

	doc.Version++
	doc.UpdatedAt = now
	return nil
}

// DeleteDocument removes a document.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, userID, docID string) error {
	var rows int64
	err := withRetry(ctx, "delete document", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND user_id = ?`, docID, userID)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFlowRun appends a flow invocation record.
func (s *SQLiteStore) RecordFlowRun(ctx context.Context, run *domain.FlowRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	query := `INSERT INTO flow_runs (user_id, flow, status, duration_ms, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	return withRetry(ctx, "record flow run", func() error {
		result, err := s.db.ExecContext(ctx, query,
			run.UserID, run.Flow, string(run.Status), run.DurationMs, run.Error, run.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert flow run: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("flow run id: %w", err)
		}
		run.ID = id
		return nil
	})
}

// ListFlowRuns returns the most recent flow runs for a user.
func (s *SQLiteStore) ListFlowRuns(ctx context.Context, userID string, limit int) ([]*domain.FlowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, flow, status, duration_ms, error, created_at
		FROM flow_runs WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query flow runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close flow run rows", "error", closeErr)
		}
	}()

	runs := []*domain.FlowRun{}
	for rows.Next() {
		var run domain.FlowRun
		var status string
		var createdAt int64
		if err := rows.Scan(&run.ID, &run.UserID, &run.Flow, &status, &run.DurationMs, &run.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan flow run: %w", err)
		}
		run.Status = domain.FlowRunStatus(status)
		run.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow runs: %w", err)
	}
	return runs, nil
}

// DeleteInactiveUsers removes users idle for longer than ttl. Credentials and
// documents go with them through ON DELETE CASCADE.
func (s *SQLiteStore) DeleteInactiveUsers(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var deleted int64
	err := withRetry(ctx, "delete inactive users", func() error {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM flow_runs WHERE user_id IN (SELECT user_id FROM users WHERE last_seen_at < ?)`, threshold); err != nil {
			return fmt.Errorf("delete inactive flow runs: %w", err)
		}
		result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE last_seen_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("delete inactive users: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}
