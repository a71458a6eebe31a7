package importing

import (
	"fmt"
	"time"
)

type SessionStatus string

const (
	SessionUploaded  SessionStatus = "uploaded"
	SessionEnriched  SessionStatus = "enriched"
	SessionSyncing   SessionStatus = "syncing"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionExpired   SessionStatus = "expired"
)

// sessionTransitions is the complete set of legal session moves. A status
// missing from the map, or a target missing from its list, is rejected.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionUploaded:  {SessionEnriched, SessionFailed, SessionExpired},
	SessionEnriched:  {SessionSyncing, SessionFailed, SessionExpired},
	SessionSyncing:   {SessionCompleted, SessionFailed, SessionExpired},
	SessionFailed:    {SessionSyncing, SessionExpired},
	SessionCompleted: {},
	SessionExpired:   {},
}

func (s SessionStatus) Valid() bool {
	_, ok := sessionTransitions[s]
	return ok
}

func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s SessionStatus) TransitionTo(next SessionStatus) (SessionStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: session %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// FileRef points at the original upload held by a FileStore.
type FileRef struct {
	Key         string
	ContentType string
	Size        int64
}

type Session struct {
	ID                  string
	AccountID           string
	FileName            string
	Status              SessionStatus
	TotalRows           int64
	ProcessedRows       int64
	EnrichedRows        int64
	SyncedRows          int64
	FailedRows          int64
	FieldMappings       map[string]string
	EnrichmentConfigIDs []string
	File                *FileRef
	RetryCount          int
	MaxRetries          int
	ExpiresAt           time.Time
	CompletedAt         *time.Time
	Note                string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsExpired reports whether the retention window has closed for the session,
// either because the reaper already ran or because ExpiresAt has passed.
func (s Session) IsExpired(now time.Time) bool {
	return s.Status == SessionExpired || !now.Before(s.ExpiresAt)
}

func (s Session) RetriesLeft() bool {
	return s.RetryCount < s.MaxRetries
}

// CounterDelta is applied to the session counters as an atomic increment.
type CounterDelta struct {
	Processed int64
	Enriched  int64
	Synced    int64
	Failed    int64
}

func (d CounterDelta) IsZero() bool {
	return d == CounterDelta{}
}

// SessionState is the mutable lifecycle part of a session. Counters and
// ExpiresAt are deliberately absent: counters move via CounterDelta and
// ExpiresAt never changes after creation.
type SessionState struct {
	Status      SessionStatus
	RetryCount  int
	CompletedAt *time.Time
	Note        string
	File        *FileRef
}

func (s Session) State() SessionState {
	return SessionState{
		Status:      s.Status,
		RetryCount:  s.RetryCount,
		CompletedAt: s.CompletedAt,
		Note:        s.Note,
		File:        s.File,
	}
}
