package importing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

const enrichPageSize = 200

type EnrichSummary struct {
	SessionID string               `json:"sessionId"`
	Status    domain.SessionStatus `json:"status"`
	Enriched  int64                `json:"enriched"`
	Failed    int64                `json:"failed"`
}

type EnrichSessionDeps struct {
	Repo     domain.SessionRepository
	Catalog  EnrichmentCatalog
	Enricher Enricher
	Logger   *slog.Logger
	Now      func() time.Time
}

// EnrichSession validates every pending row of an uploaded session and runs
// the session's enrichment configs over the valid ones.
type EnrichSession struct {
	repo     domain.SessionRepository
	catalog  EnrichmentCatalog
	enricher Enricher
	logger   *slog.Logger
	now      func() time.Time
}

func NewEnrichSession(deps EnrichSessionDeps) *EnrichSession {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &EnrichSession{
		repo:     deps.Repo,
		catalog:  deps.Catalog,
		enricher: deps.Enricher,
		logger:   logging.OrDefault(deps.Logger),
		now:      deps.Now,
	}
}

func (uc *EnrichSession) Execute(ctx context.Context, sessionID string) (EnrichSummary, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return EnrichSummary{}, ErrInvalidSession
	}

	session, err := uc.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return EnrichSummary{}, err
		}
		return EnrichSummary{}, fmt.Errorf("%w: %v", ErrEnrichFailed, err)
	}
	if session.IsExpired(uc.now()) {
		return EnrichSummary{}, ErrSessionExpired
	}
	if _, err := session.Status.TransitionTo(domain.SessionEnriched); err != nil {
		return EnrichSummary{}, err
	}

	var configs []domain.EnrichmentConfig
	if len(session.EnrichmentConfigIDs) > 0 {
		if uc.catalog == nil {
			return EnrichSummary{}, fmt.Errorf("%w: no enrichment catalog configured", ErrEnrichFailed)
		}
		configs, err = uc.catalog.Configs(ctx, session.EnrichmentConfigIDs)
		if err != nil {
			return EnrichSummary{}, fmt.Errorf("%w: load enrichment configs: %v", ErrInvalidSession, err)
		}
	}

	summary := EnrichSummary{SessionID: sessionID}
	after := int64(-1)
	for {
		rows, err := uc.repo.ListRows(ctx, domain.RowQuery{
			SessionID:  sessionID,
			Statuses:   []domain.RowStatus{domain.RowPending, domain.RowValidated},
			AfterIndex: after,
			Limit:      enrichPageSize,
		})
		if err != nil {
			return summary, fmt.Errorf("%w: list unenriched rows: %v", ErrEnrichFailed, err)
		}
		for _, row := range rows {
			after = row.RowIndex
			ok, err := uc.enrichRow(ctx, *session, row, configs)
			if err != nil {
				return summary, fmt.Errorf("%w: %v", ErrEnrichFailed, err)
			}
			if ok {
				summary.Enriched++
			} else {
				summary.Failed++
			}
		}
		if len(rows) < enrichPageSize {
			break
		}
	}

	state := session.State()
	state.Status = domain.SessionEnriched
	if err := uc.repo.UpdateSessionState(ctx, sessionID, session.Status, state); err != nil {
		return summary, fmt.Errorf("%w: %v", ErrEnrichFailed, err)
	}
	summary.Status = domain.SessionEnriched

	uc.logger.Info("session enriched",
		"session_id", sessionID, "enriched", summary.Enriched, "failed", summary.Failed)
	return summary, nil
}

func (uc *EnrichSession) enrichRow(ctx context.Context, session domain.Session, row domain.Row, configs []domain.EnrichmentConfig) (bool, error) {
	if reason := validateRow(row, session.FieldMappings); reason != "" {
		return false, uc.failRow(ctx, session.ID, row, reason)
	}

	// A validated row was left behind by an earlier run that failed mid-row.
	if row.Status == domain.RowPending {
		row.Status = domain.RowValidated
		if err := uc.repo.UpdateRow(ctx, row, domain.RowPending); err != nil {
			return false, fmt.Errorf("mark row %d validated: %w", row.RowIndex, err)
		}
	}

	enriched := make(map[string]string, len(configs))
	for k, v := range row.EnrichedData {
		enriched[k] = v
	}
	for _, cfg := range configs {
		view := domain.Row{RawData: row.RawData, EnrichedData: enriched}
		result := uc.enricher.Enrich(ctx, cfg, view.Properties(session.FieldMappings))
		if result.Success {
			enriched[cfg.TargetField] = result.Value
			continue
		}
		if cfg.Required {
			row.EnrichedData = enriched
			return false, uc.failRow(ctx, session.ID, row,
				fmt.Sprintf("enrichment %s failed: %s", cfg.ID, result.Error))
		}
		uc.logger.Debug("optional enrichment skipped",
			"session_id", session.ID, "row_index", row.RowIndex, "config_id", cfg.ID, "reason", result.Error)
	}

	row.EnrichedData = enriched
	row.Status = domain.RowEnriched
	if err := uc.repo.UpdateRow(ctx, row, domain.RowValidated); err != nil {
		return false, fmt.Errorf("mark row %d enriched: %w", row.RowIndex, err)
	}
	if err := uc.repo.IncrementCounters(ctx, session.ID, domain.CounterDelta{Enriched: 1}); err != nil {
		return false, fmt.Errorf("update counters: %w", err)
	}
	return true, nil
}

func (uc *EnrichSession) failRow(ctx context.Context, sessionID string, row domain.Row, reason string) error {
	previous := row.Status
	next, err := previous.TransitionTo(domain.RowFailed)
	if err != nil {
		return err
	}
	row.Status = next
	row.ErrorMessage = truncateReason(reason)
	if err := uc.repo.UpdateRow(ctx, row, previous); err != nil {
		return fmt.Errorf("mark row %d failed: %w", row.RowIndex, err)
	}
	return uc.repo.IncrementCounters(ctx, sessionID, domain.CounterDelta{Failed: 1})
}

// validateRow returns the reason the row cannot enter enrichment, or "".
func validateRow(row domain.Row, mappings map[string]string) string {
	props := row.Properties(mappings)
	empty := true
	for _, v := range props {
		if strings.TrimSpace(v) != "" {
			empty = false
			break
		}
	}
	if empty {
		return "row has no data"
	}
	email := strings.TrimSpace(props["email"])
	if email == "" {
		return "email is required"
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Sprintf("invalid email %q", email)
	}
	return ""
}
