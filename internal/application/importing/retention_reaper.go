package importing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

const (
	defaultPurgeBatch     = 200
	defaultReaperInterval = 10 * time.Minute
)

type PurgeResult struct {
	PurgedCount      int      `json:"purgedCount"`
	PurgedSessionIDs []string `json:"purgedSessionIds"`
}

type RetentionReaperDeps struct {
	Repo   domain.SessionRepository
	Files  domain.FileStore
	Logger *slog.Logger
	Now    func() time.Time
	Batch  int
}

// RetentionReaper deletes row data and original files of sessions whose
// retention window has closed and leaves an expired audit record behind.
type RetentionReaper struct {
	repo   domain.SessionRepository
	files  domain.FileStore
	logger *slog.Logger
	now    func() time.Time
	batch  int
}

func NewRetentionReaper(deps RetentionReaperDeps) *RetentionReaper {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Batch <= 0 {
		deps.Batch = defaultPurgeBatch
	}
	return &RetentionReaper{
		repo:   deps.Repo,
		files:  deps.Files,
		logger: logging.OrDefault(deps.Logger),
		now:    deps.Now,
		batch:  deps.Batch,
	}
}

// Purge expires every session past its ExpiresAt that is neither expired nor
// completed. Running it again right away purges nothing.
func (r *RetentionReaper) Purge(ctx context.Context) (PurgeResult, error) {
	result := PurgeResult{PurgedSessionIDs: []string{}}
	now := r.now()
	var failures []error

	for {
		sessions, err := r.repo.ListExpiredSessions(ctx, now, r.batch)
		if err != nil {
			return result, fmt.Errorf("%w: list expired sessions: %v", ErrPurgeFailed, err)
		}
		purgedInBatch := 0
		for _, session := range sessions {
			if err := r.purgeSession(ctx, session); err != nil {
				r.logger.Error("purge session failed", "session_id", session.ID, "err", err)
				failures = append(failures, err)
				continue
			}
			purgedInBatch++
			result.PurgedCount++
			result.PurgedSessionIDs = append(result.PurgedSessionIDs, session.ID)
		}
		if len(sessions) < r.batch || purgedInBatch == 0 {
			break
		}
	}

	if result.PurgedCount > 0 {
		r.logger.Info("expired sessions purged", "count", result.PurgedCount)
	}
	if len(failures) > 0 {
		return result, fmt.Errorf("%w: %v", ErrPurgeFailed, errors.Join(failures...))
	}
	return result, nil
}

func (r *RetentionReaper) purgeSession(ctx context.Context, session domain.Session) error {
	prior := session.Status
	next, err := prior.TransitionTo(domain.SessionExpired)
	if err != nil {
		return err
	}

	if _, err := r.repo.DeleteRows(ctx, session.ID); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	if session.File != nil && r.files != nil {
		if err := r.files.Delete(ctx, session.File.Key); err != nil && !errors.Is(err, ErrFileNotFound) {
			return fmt.Errorf("delete file: %w", err)
		}
	}

	state := session.State()
	state.Status = next
	state.File = nil
	state.Note = fmt.Sprintf("Row data purged after retention expired at %s (status was %s).",
		session.ExpiresAt.UTC().Format(time.RFC3339), prior)
	if err := r.repo.UpdateSessionState(ctx, session.ID, prior, state); err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	return nil
}

// RunMonitor purges on every tick until ctx is done.
func (r *RetentionReaper) RunMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Purge(ctx); err != nil {
				r.logger.Error("retention purge failed", "err", err)
			}
		}
	}
}
