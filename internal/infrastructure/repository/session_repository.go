package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/db/models"
)

const createRowBatchSize = 500

type sessionCreator interface {
	CreateSession(ctx context.Context, session domain.Session, rows []domain.Row) error
}

// SessionRepository stores sessions and rows in postgres through gorm.
// Session creation goes through bulk when set.
type SessionRepository struct {
	db   *gorm.DB
	bulk sessionCreator
}

func NewSessionRepository(db *gorm.DB, bulk sessionCreator) *SessionRepository {
	return &SessionRepository{db: db, bulk: bulk}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session domain.Session, rows []domain.Row) error {
	if r.bulk != nil {
		return r.bulk.CreateSession(ctx, session, rows)
	}

	m, err := toSessionModel(session)
	if err != nil {
		return err
	}
	rowModels := make([]models.ImportRow, 0, len(rows))
	for _, row := range rows {
		row.SessionID = session.ID
		rm, err := toRowModel(row)
		if err != nil {
			return fmt.Errorf("row %d: %w", row.RowIndex, err)
		}
		rowModels = append(rowModels, rm)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Rows").Create(&m).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if len(rowModels) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rowModels, createRowBatchSize).Error; err != nil {
			return fmt.Errorf("create rows: %w", err)
		}
		return nil
	})
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var m models.ImportSession
	err := r.db.WithContext(ctx).Where("id = ?", sessionID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s, err := fromSessionModel(m)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) UpdateSessionState(ctx context.Context, sessionID string, expected domain.SessionStatus, state domain.SessionState) error {
	updates := map[string]any{
		"status":            string(state.Status),
		"retry_count":       state.RetryCount,
		"completed_at":      state.CompletedAt,
		"note":              nullableText(state.Note),
		"file_key":          nil,
		"file_content_type": nil,
		"file_size":         int64(0),
		"updated_at":        time.Now().UTC(),
	}
	if state.File != nil {
		updates["file_key"] = state.File.Key
		updates["file_content_type"] = state.File.ContentType
		updates["file_size"] = state.File.Size
	}

	res := r.db.WithContext(ctx).
		Model(&models.ImportSession{}).
		Where("id = ? AND status = ?", sessionID, string(expected)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update session state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.missingOrConflict(ctx, sessionID, expected)
	}
	return nil
}

func (r *SessionRepository) missingOrConflict(ctx context.Context, sessionID string, expected domain.SessionStatus) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ImportSession{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if count == 0 {
		return domain.ErrSessionNotFound
	}
	return fmt.Errorf("%w: session %s is no longer %s", domain.ErrSessionConflict, sessionID, expected)
}

func (r *SessionRepository) IncrementCounters(ctx context.Context, sessionID string, delta domain.CounterDelta) error {
	if delta.IsZero() {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.ImportSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"processed_rows": gorm.Expr("processed_rows + ?", delta.Processed),
			"enriched_rows":  gorm.Expr("enriched_rows + ?", delta.Enriched),
			"synced_rows":    gorm.Expr("synced_rows + ?", delta.Synced),
			"failed_rows":    gorm.Expr("failed_rows + ?", delta.Failed),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("increment counters: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.ImportRow{}).Error; err != nil {
			return fmt.Errorf("delete rows: %w", err)
		}
		res := tx.Where("id = ?", sessionID).Delete(&models.ImportSession{})
		if res.Error != nil {
			return fmt.Errorf("delete session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrSessionNotFound
		}
		return nil
	})
}

func (r *SessionRepository) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]domain.Session, error) {
	var rows []models.ImportSession
	q := r.db.WithContext(ctx).
		Where("expires_at <= ? AND status NOT IN ?", now, []string{string(domain.SessionExpired), string(domain.SessionCompleted)}).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	out := make([]domain.Session, 0, len(rows))
	for _, m := range rows {
		s, err := fromSessionModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *SessionRepository) rowScope(sessionID string, statuses []domain.RowStatus) *gorm.DB {
	q := r.db.Model(&models.ImportRow{}).Where("session_id = ?", sessionID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(statuses))
	}
	return q
}

func (r *SessionRepository) ListRows(ctx context.Context, query domain.RowQuery) ([]domain.Row, error) {
	var rows []models.ImportRow
	q := r.rowScope(query.SessionID, query.Statuses).WithContext(ctx).
		Where("row_index > ?", query.AfterIndex).
		Order("row_index ASC")
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	out := make([]domain.Row, 0, len(rows))
	for _, m := range rows {
		row, err := fromRowModel(m)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", m.RowIndex, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *SessionRepository) CountRows(ctx context.Context, sessionID string, statuses ...domain.RowStatus) (int64, error) {
	var count int64
	if err := r.rowScope(sessionID, statuses).WithContext(ctx).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return count, nil
}

func (r *SessionRepository) CountRowsByStatus(ctx context.Context, sessionID string) (map[domain.RowStatus]int64, error) {
	var grouped []struct {
		Status string
		Count  int64
	}
	if err := r.rowScope(sessionID, nil).WithContext(ctx).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&grouped).Error; err != nil {
		return nil, fmt.Errorf("count rows by status: %w", err)
	}
	counts := make(map[domain.RowStatus]int64, len(grouped))
	for _, g := range grouped {
		counts[domain.RowStatus(g.Status)] = g.Count
	}
	return counts, nil
}

func (r *SessionRepository) UpdateRow(ctx context.Context, row domain.Row, expected ...domain.RowStatus) error {
	m, err := toRowModel(row)
	if err != nil {
		return err
	}
	q := r.db.WithContext(ctx).
		Model(&models.ImportRow{}).
		Where("id = ? AND session_id = ?", row.ID, row.SessionID)
	if len(expected) > 0 {
		q = q.Where("status IN ?", statusStrings(expected))
	}
	res := q.Updates(map[string]any{
		"enriched_data":    m.EnrichedData,
		"status":           m.Status,
		"contact_id":       m.ContactID,
		"company_id":       m.CompanyID,
		"task_id":          m.TaskID,
		"match_type":       m.MatchType,
		"match_confidence": m.MatchConfidence,
		"error_message":    m.ErrorMessage,
		"updated_at":       time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("update row: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: row %d of session %s", domain.ErrRowConflict, row.RowIndex, row.SessionID)
	}
	return nil
}

func (r *SessionRepository) DeleteRows(ctx context.Context, sessionID string, statuses ...domain.RowStatus) (int64, error) {
	q := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(statuses))
	}
	res := q.Delete(&models.ImportRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete rows: %w", res.Error)
	}
	return res.RowsAffected, nil
}
