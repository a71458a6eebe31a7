package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

var rowCopyColumns = []string{
	"id", "session_id", "row_index", "raw_data", "enriched_data",
	"status", "match_type", "match_confidence", "created_at", "updated_at",
}

// SessionBulkRepository creates a session and streams its rows with COPY in
// one transaction.
type SessionBulkRepository struct {
	pool *pgxpool.Pool
}

func NewSessionBulkRepository(pool *pgxpool.Pool) *SessionBulkRepository {
	return &SessionBulkRepository{pool: pool}
}

func (r *SessionBulkRepository) CreateSession(ctx context.Context, session domain.Session, rows []domain.Row) error {
	m, err := toSessionModel(session)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO import_sessions (
    id, account_id, file_name, status, total_rows, processed_rows, enriched_rows,
    synced_rows, failed_rows, field_mappings, enrichment_config_ids, file_key,
    file_content_type, file_size, retry_count, max_retries, expires_at,
    completed_at, note, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, 0, 0, 0, 0, $6, $7, $8, $9, $10, 0, $11, $12, NULL, $13, $14, $14)`,
		m.ID, m.AccountID, m.FileName, m.Status, m.TotalRows,
		string(m.FieldMappings), string(m.EnrichmentConfigIDs),
		m.FileKey, m.FileContentType, m.FileSize, m.MaxRetries, m.ExpiresAt, m.Note, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	copyRows := make([][]any, 0, len(rows))
	for _, row := range rows {
		rm, err := toRowModel(row)
		if err != nil {
			return fmt.Errorf("row %d: %w", row.RowIndex, err)
		}
		copyRows = append(copyRows, []any{
			rm.ID, session.ID, rm.RowIndex, string(rm.RawData), string(rm.EnrichedData),
			rm.Status, rm.MatchType, rm.MatchConfidence, rm.CreatedAt, rm.UpdatedAt,
		})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"import_rows"}, rowCopyColumns, pgx.CopyFromRows(copyRows)); err != nil {
		return fmt.Errorf("copy rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}
