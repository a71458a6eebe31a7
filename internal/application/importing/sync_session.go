package importing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

// PageSize is the number of eligible rows fetched per page of a sync pass.
const PageSize = 50

// RowSyncer pushes one row to the CRM. See RowProcessor.
type RowSyncer interface {
	Process(ctx context.Context, in RowInput, taskAssigneeID string) (domain.SyncOutcome, error)
}

type SyncSessionInput struct {
	SessionID      string
	TaskAssigneeID string
}

type SyncSummary struct {
	SessionID   string               `json:"sessionId"`
	Status      domain.SessionStatus `json:"status"`
	Total       int64                `json:"total"`
	Completed   int64                `json:"completed"`
	Synced      int64                `json:"synced"`
	Failed      int64                `json:"failed"`
	RetryCount  int                  `json:"retryCount"`
	Pages       []int                `json:"pages"`
	AuthAborted bool                 `json:"authAborted"`
	Cancelled   bool                 `json:"cancelled"`
}

type SyncSessionDeps struct {
	Repo        domain.SessionRepository
	Processor   RowSyncer
	Credentials CredentialProvider
	Properties  PropertyCatalog
	Limiter     RateLimiter
	// Fallback paces rows when Limiter fails. Defaults to a fixed pause.
	Fallback    RateLimiter
	Lease       SessionLease
	Runs        *RunRegistry
	Logger      *slog.Logger
	Now         func() time.Time
}

// SyncSession runs one sync pass over a session's eligible rows.
type SyncSession struct {
	repo        domain.SessionRepository
	processor   RowSyncer
	credentials CredentialProvider
	properties  PropertyCatalog
	limiter     RateLimiter
	fallback    RateLimiter
	lease       SessionLease
	runs        *RunRegistry
	logger      *slog.Logger
	now         func() time.Time
}

func NewSyncSession(deps SyncSessionDeps) *SyncSession {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Fallback == nil {
		deps.Fallback = fixedPause(defaultFallbackPause)
	}
	return &SyncSession{
		repo:        deps.Repo,
		processor:   deps.Processor,
		credentials: deps.Credentials,
		properties:  deps.Properties,
		limiter:     deps.Limiter,
		fallback:    deps.Fallback,
		lease:       deps.Lease,
		runs:        deps.Runs,
		logger:      logging.OrDefault(deps.Logger),
		now:         deps.Now,
	}
}

// Execute syncs the session and streams a result event per row and a
// progress event per page to emitter. Row-level failures, including an auth
// abort, are reported through the summary and events, not the error.
func (uc *SyncSession) Execute(ctx context.Context, in SyncSessionInput, emitter Emitter) (SyncSummary, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return SyncSummary{}, ErrInvalidSession
	}

	release, err := uc.lease.Acquire(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			return SyncSummary{}, err
		}
		return SyncSummary{}, fmt.Errorf("%w: acquire lease: %v", ErrSyncFailed, err)
	}
	defer release()

	runCtx, finish := uc.runs.start(ctx, sessionID)
	defer finish()
	storeCtx := context.WithoutCancel(runCtx)

	session, err := uc.repo.GetSession(storeCtx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return SyncSummary{}, err
		}
		return SyncSummary{}, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	if session.IsExpired(uc.now()) {
		return SyncSummary{}, ErrSessionExpired
	}

	retry := false
	switch session.Status {
	case domain.SessionEnriched:
	case domain.SessionSyncing:
		// Holding the lease means the previous run died without closing out.
		uc.logger.Warn("resuming interrupted sync", "session_id", sessionID)
	case domain.SessionFailed:
		if !session.RetriesLeft() {
			return SyncSummary{}, fmt.Errorf("%w: %d of %d retries used", ErrRetryLimitExceeded, session.RetryCount, session.MaxRetries)
		}
		retry = true
	default:
		_, err := session.Status.TransitionTo(domain.SessionSyncing)
		return SyncSummary{}, err
	}

	total, err := uc.repo.CountRows(storeCtx, sessionID, domain.SyncEligibleStatuses...)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("%w: count eligible rows: %v", ErrSyncFailed, err)
	}

	run := &syncRun{
		uc:       uc,
		session:  *session,
		assignee: strings.TrimSpace(in.TaskAssigneeID),
		stream:   newSilencingEmitter(emitter, uc.logger, sessionID),
		guard:    newAuthGuard(uc.credentials, uc.properties, uc.logger, sessionID),
		summary: SyncSummary{
			SessionID:  sessionID,
			Status:     session.Status,
			Total:      total,
			RetryCount: session.RetryCount,
			Pages:      []int{},
		},
	}

	if err := run.guard.preflight(storeCtx); err != nil {
		uc.logger.Warn("crm auth pre-flight failed", "session_id", sessionID, "err", err)
		return run.failPreflight(storeCtx)
	}

	if session.Status != domain.SessionSyncing {
		state := session.State()
		state.Status = domain.SessionSyncing
		state.Note = ""
		if retry {
			state.RetryCount++
		}
		if err := uc.repo.UpdateSessionState(storeCtx, sessionID, session.Status, state); err != nil {
			return SyncSummary{}, fmt.Errorf("%w: start sync: %v", ErrSyncFailed, err)
		}
		run.session.Status = state.Status
		run.session.RetryCount = state.RetryCount
		run.session.Note = state.Note
		run.summary.Status = state.Status
		run.summary.RetryCount = state.RetryCount
	}

	uc.logger.Info("sync started",
		"session_id", sessionID, "eligible_rows", total, "retry_count", run.session.RetryCount)

	if err := run.processPages(runCtx); err != nil {
		run.abandon(storeCtx, err)
		return run.summary, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return run.closeOut(storeCtx)
}

// syncRun is the state of a single pass. It is used by one goroutine.
type syncRun struct {
	uc       *SyncSession
	session  domain.Session
	assignee string
	stream   *silencingEmitter
	guard    *authGuard
	summary  SyncSummary
	aborted  bool
}

func (r *syncRun) processPages(runCtx context.Context) error {
	storeCtx := context.WithoutCancel(runCtx)
	after := int64(-1)
	for {
		if runCtx.Err() != nil {
			r.summary.Cancelled = true
			return nil
		}

		rows, err := r.uc.repo.ListRows(storeCtx, domain.RowQuery{
			SessionID:  r.session.ID,
			Statuses:   domain.SyncEligibleStatuses,
			AfterIndex: after,
			Limit:      PageSize,
		})
		if err != nil {
			return fmt.Errorf("list eligible rows: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		handled := 0
		for _, row := range rows {
			if !r.aborted && runCtx.Err() != nil {
				r.summary.Cancelled = true
				break
			}
			if r.aborted {
				err = r.failRow(storeCtx, row, AuthRemediationMessage)
			} else {
				err = r.syncRow(runCtx, row)
			}
			if err != nil {
				return err
			}
			handled++
			after = row.RowIndex
		}

		if handled > 0 {
			r.summary.Pages = append(r.summary.Pages, handled)
			r.stream.emit(ProgressEvent(r.summary.Completed, r.summary.Total))
		}
		if r.summary.Cancelled || len(rows) < PageSize {
			return nil
		}
	}
}

func (r *syncRun) syncRow(runCtx context.Context, row domain.Row) error {
	storeCtx := context.WithoutCancel(runCtx)
	logger := r.uc.logger.With("session_id", r.session.ID, "row_index", row.RowIndex)

	previous := row.Status
	next, err := previous.TransitionTo(domain.RowSyncing)
	if err != nil {
		return err
	}
	row.Status = next
	if err := r.uc.repo.UpdateRow(storeCtx, row, previous); err != nil {
		if errors.Is(err, domain.ErrRowConflict) {
			logger.Warn("row changed concurrently, skipping")
			return nil
		}
		return fmt.Errorf("mark row %d syncing: %w", row.RowIndex, err)
	}
	if previous == domain.RowFailed {
		if err := r.uc.repo.IncrementCounters(storeCtx, r.session.ID, domain.CounterDelta{Failed: -1}); err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
	}

	defer r.pause(runCtx, logger)
	outcome, procErr := r.uc.processor.Process(storeCtx, RowInput{
		RowIndex:      row.RowIndex,
		RawData:       row.RawData,
		EnrichedData:  row.EnrichedData,
		FieldMappings: r.session.FieldMappings,
	}, r.assignee)
	outcome.RowIndex = row.RowIndex

	decision := authContinue
	switch {
	case procErr != nil && domain.IsAuthError(procErr):
		logger.Warn("crm rejected credentials", "err", procErr)
		outcome = domain.FailedOutcome(row.RowIndex, AuthRemediationMessage)
		decision = r.guard.observeAuthFailure(storeCtx)
	case procErr != nil:
		outcome = domain.FailedOutcome(row.RowIndex, truncateReason(procErr.Error()))
	case !outcome.Failed():
		r.guard.observeSuccess()
	}

	outcome.Apply(&row)
	if err := r.uc.repo.UpdateRow(storeCtx, row, domain.RowSyncing); err != nil {
		if errors.Is(err, domain.ErrRowConflict) {
			logger.Warn("row removed during sync, dropping outcome")
			return nil
		}
		return fmt.Errorf("record row %d outcome: %w", row.RowIndex, err)
	}

	delta := domain.CounterDelta{Processed: 1, Synced: 1}
	if outcome.Failed() {
		delta = domain.CounterDelta{Failed: 1}
		r.summary.Failed++
	} else {
		r.summary.Synced++
	}
	if err := r.uc.repo.IncrementCounters(storeCtx, r.session.ID, delta); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	r.summary.Completed++
	r.stream.emit(ResultEvent(outcome))

	if decision == authAbort {
		r.aborted = true
		r.summary.AuthAborted = true
	}

	return nil
}

// pause runs after every row that reached the CRM, whatever its outcome.
func (r *syncRun) pause(ctx context.Context, logger *slog.Logger) {
	if r.uc.limiter == nil {
		return
	}
	err := r.uc.limiter.Wait(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}
	logger.Warn("rate limiter wait failed, using fallback pause", "err", err)
	if err := r.uc.fallback.Wait(ctx); err != nil && ctx.Err() == nil {
		logger.Error("fallback pause failed", "err", err)
	}
}

const defaultFallbackPause = 250 * time.Millisecond

type fixedPause time.Duration

func (p fixedPause) Wait(ctx context.Context) error {
	timer := time.NewTimer(time.Duration(p))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// failRow marks a row failed without contacting the CRM.
func (r *syncRun) failRow(ctx context.Context, row domain.Row, message string) error {
	previous := row.Status
	row.Status = domain.RowFailed
	row.ErrorMessage = message
	if err := r.uc.repo.UpdateRow(ctx, row, domain.SyncEligibleStatuses...); err != nil {
		if errors.Is(err, domain.ErrRowConflict) {
			return nil
		}
		return fmt.Errorf("fail row %d: %w", row.RowIndex, err)
	}
	if previous != domain.RowFailed {
		if err := r.uc.repo.IncrementCounters(ctx, r.session.ID, domain.CounterDelta{Failed: 1}); err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
	}
	r.summary.Failed++
	r.summary.Completed++
	r.stream.emit(ResultEvent(domain.FailedOutcome(row.RowIndex, message)))
	return nil
}

// failPreflight fails every eligible row with the remediation message and
// closes the session as failed. The retry counter is left alone.
func (r *syncRun) failPreflight(ctx context.Context) (SyncSummary, error) {
	r.aborted = true
	r.summary.AuthAborted = true

	after := int64(-1)
	for {
		rows, err := r.uc.repo.ListRows(ctx, domain.RowQuery{
			SessionID:  r.session.ID,
			Statuses:   domain.SyncEligibleStatuses,
			AfterIndex: after,
			Limit:      PageSize,
		})
		if err != nil {
			return r.summary, fmt.Errorf("%w: list eligible rows: %v", ErrSyncFailed, err)
		}
		for _, row := range rows {
			if err := r.failRow(ctx, row, AuthRemediationMessage); err != nil {
				return r.summary, fmt.Errorf("%w: %v", ErrSyncFailed, err)
			}
			after = row.RowIndex
		}
		if len(rows) < PageSize {
			break
		}
	}

	state := r.session.State()
	if state.Status != domain.SessionFailed {
		next, err := state.Status.TransitionTo(domain.SessionFailed)
		if err != nil {
			return r.summary, err
		}
		state.Status = next
	}
	state.Note = AuthRemediationMessage
	if err := r.uc.repo.UpdateSessionState(ctx, r.session.ID, r.session.Status, state); err != nil {
		return r.summary, fmt.Errorf("%w: close session: %v", ErrSyncFailed, err)
	}
	r.summary.Status = state.Status
	return r.summary, nil
}

func (r *syncRun) closeOut(ctx context.Context) (SyncSummary, error) {
	final := domain.SessionCompleted
	if r.summary.Failed > 0 || r.summary.Cancelled {
		final = domain.SessionFailed
	}

	deleted, err := r.uc.repo.DeleteRows(ctx, r.session.ID, domain.RowSynced)
	if err != nil {
		r.uc.logger.Error("delete synced rows failed", "session_id", r.session.ID, "err", err)
	}

	state := r.session.State()
	next, err := state.Status.TransitionTo(final)
	if err != nil {
		return r.summary, err
	}
	state.Status = next
	state.CompletedAt = nil
	switch {
	case r.summary.AuthAborted:
		state.Note = AuthRemediationMessage
	case r.summary.Cancelled:
		state.Note = fmt.Sprintf("sync cancelled after %d of %d rows", r.summary.Completed, r.summary.Total)
	case final == domain.SessionFailed:
		state.Note = fmt.Sprintf("%d of %d rows failed to sync", r.summary.Failed, r.summary.Total)
	default:
		completedAt := r.uc.now().UTC()
		state.CompletedAt = &completedAt
		state.Note = ""
	}
	if err := r.uc.repo.UpdateSessionState(ctx, r.session.ID, domain.SessionSyncing, state); err != nil {
		return r.summary, fmt.Errorf("%w: close session: %v", ErrSyncFailed, err)
	}
	r.summary.Status = final

	r.uc.logger.Info("sync finished",
		"session_id", r.session.ID,
		"status", final,
		"synced", r.summary.Synced,
		"failed", r.summary.Failed,
		"synced_rows_deleted", deleted,
		"cancelled", r.summary.Cancelled)
	return r.summary, nil
}

// abandon leaves the session failed after an internal error so it can be
// retried instead of staying in syncing.
func (r *syncRun) abandon(ctx context.Context, cause error) {
	r.uc.logger.Error("sync aborted", "session_id", r.session.ID, "err", cause)
	state := r.session.State()
	state.Status = domain.SessionFailed
	state.Note = truncateReason("sync aborted: " + cause.Error())
	if err := r.uc.repo.UpdateSessionState(ctx, r.session.ID, domain.SessionSyncing, state); err != nil {
		r.uc.logger.Error("mark abandoned session failed", "session_id", r.session.ID, "err", err)
		return
	}
	r.summary.Status = domain.SessionFailed
}
