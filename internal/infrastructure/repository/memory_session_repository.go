package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

// MemorySessionRepository keeps sessions and rows in process memory. It
// honours the same guards as the postgres store.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	rows     map[string]map[int64]*domain.Row
	now      func() time.Time
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: map[string]*domain.Session{},
		rows:     map[string]map[int64]*domain.Row{},
		now:      time.Now,
	}
}

func (r *MemorySessionRepository) CreateSession(ctx context.Context, session domain.Session, rows []domain.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	byIndex := make(map[int64]*domain.Row, len(rows))
	for i := range rows {
		if _, dup := byIndex[rows[i].RowIndex]; dup {
			return fmt.Errorf("duplicate row index %d", rows[i].RowIndex)
		}
		row := copyRow(rows[i])
		row.SessionID = session.ID
		byIndex[row.RowIndex] = &row
	}
	s := copySession(session)
	r.sessions[session.ID] = &s
	r.rows[session.ID] = byIndex
	return nil
}

func (r *MemorySessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := copySession(*s)
	return &out, nil
}

func (r *MemorySessionRepository) UpdateSessionState(ctx context.Context, sessionID string, expected domain.SessionStatus, state domain.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.Status != expected {
		return fmt.Errorf("%w: session %s is %s, expected %s", domain.ErrSessionConflict, sessionID, s.Status, expected)
	}
	s.Status = state.Status
	s.RetryCount = state.RetryCount
	s.CompletedAt = copyTime(state.CompletedAt)
	s.Note = state.Note
	s.File = copyFileRef(state.File)
	s.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemorySessionRepository) IncrementCounters(ctx context.Context, sessionID string, delta domain.CounterDelta) error {
	if delta.IsZero() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.ProcessedRows += delta.Processed
	s.EnrichedRows += delta.Enriched
	s.SyncedRows += delta.Synced
	s.FailedRows += delta.Failed
	s.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemorySessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, sessionID)
	delete(r.rows, sessionID)
	return nil
}

func (r *MemorySessionRepository) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Session
	for _, s := range r.sessions {
		if now.Before(s.ExpiresAt) {
			continue
		}
		if s.Status == domain.SessionExpired || s.Status == domain.SessionCompleted {
			continue
		}
		out = append(out, copySession(*s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemorySessionRepository) ListRows(ctx context.Context, query domain.RowQuery) ([]domain.Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Row
	for _, row := range r.rows[query.SessionID] {
		if row.RowIndex <= query.AfterIndex || !statusIn(row.Status, query.Statuses) {
			continue
		}
		out = append(out, copyRow(*row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (r *MemorySessionRepository) CountRows(ctx context.Context, sessionID string, statuses ...domain.RowStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, row := range r.rows[sessionID] {
		if statusIn(row.Status, statuses) {
			n++
		}
	}
	return n, nil
}

func (r *MemorySessionRepository) CountRowsByStatus(ctx context.Context, sessionID string) (map[domain.RowStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := map[domain.RowStatus]int64{}
	for _, row := range r.rows[sessionID] {
		counts[row.Status]++
	}
	return counts, nil
}

func (r *MemorySessionRepository) UpdateRow(ctx context.Context, row domain.Row, expected ...domain.RowStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.rows[row.SessionID][row.RowIndex]
	if !ok || stored.ID != row.ID {
		return fmt.Errorf("%w: row %d of session %s not found", domain.ErrRowConflict, row.RowIndex, row.SessionID)
	}
	if len(expected) > 0 && !statusIn(stored.Status, expected) {
		return fmt.Errorf("%w: row %d is %s", domain.ErrRowConflict, row.RowIndex, stored.Status)
	}
	updated := copyRow(row)
	updated.RawData = stored.RawData
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = r.now().UTC()
	*stored = updated
	return nil
}

func (r *MemorySessionRepository) DeleteRows(ctx context.Context, sessionID string, statuses ...domain.RowStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for index, row := range r.rows[sessionID] {
		if statusIn(row.Status, statuses) {
			delete(r.rows[sessionID], index)
			n++
		}
	}
	return n, nil
}

// statusIn treats an empty filter as matching every status.
func statusIn(status domain.RowStatus, statuses []domain.RowStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func copySession(s domain.Session) domain.Session {
	s.FieldMappings = copyMap(s.FieldMappings)
	s.EnrichmentConfigIDs = append([]string(nil), s.EnrichmentConfigIDs...)
	s.File = copyFileRef(s.File)
	s.CompletedAt = copyTime(s.CompletedAt)
	return s
}

func copyRow(r domain.Row) domain.Row {
	r.RawData = copyMap(r.RawData)
	r.EnrichedData = copyMap(r.EnrichedData)
	return r
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyFileRef(f *domain.FileRef) *domain.FileRef {
	if f == nil {
		return nil
	}
	out := *f
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
