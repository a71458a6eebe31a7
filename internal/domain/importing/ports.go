package importing

import (
	"context"
	"time"
)

// SessionRepository is the persistent store for sessions and their rows.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session, rows []Row) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// UpdateSessionState writes state only while the stored status still
	// equals expected, otherwise it returns ErrSessionConflict.
	UpdateSessionState(ctx context.Context, sessionID string, expected SessionStatus, state SessionState) error
	IncrementCounters(ctx context.Context, sessionID string, delta CounterDelta) error
	DeleteSession(ctx context.Context, sessionID string) error
	ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]Session, error)

	ListRows(ctx context.Context, query RowQuery) ([]Row, error)
	CountRows(ctx context.Context, sessionID string, statuses ...RowStatus) (int64, error)
	CountRowsByStatus(ctx context.Context, sessionID string) (map[RowStatus]int64, error)
	// UpdateRow writes the mutable row fields only while the stored status is
	// one of expected, otherwise it returns ErrRowConflict.
	UpdateRow(ctx context.Context, row Row, expected ...RowStatus) error
	DeleteRows(ctx context.Context, sessionID string, statuses ...RowStatus) (int64, error)
}

// FileStore keeps original upload bytes.
type FileStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
