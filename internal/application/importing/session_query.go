package importing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

const (
	maxFailedRowDetails = 100
	exportPageSize      = 500
	errorColumn         = "_error"
)

type ExportFilter string

const (
	ExportAll     ExportFilter = "all"
	ExportClean   ExportFilter = "clean"
	ExportFlagged ExportFilter = "flagged"
)

func ParseExportFilter(raw string) (ExportFilter, error) {
	switch f := ExportFilter(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return ExportAll, nil
	case ExportAll, ExportClean, ExportFlagged:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidExportFilter, raw)
	}
}

func (f ExportFilter) statuses() []domain.RowStatus {
	switch f {
	case ExportFlagged:
		return []domain.RowStatus{domain.RowFailed}
	case ExportClean:
		clean := make([]domain.RowStatus, 0, len(domain.AllRowStatuses))
		for _, s := range domain.AllRowStatuses {
			if s != domain.RowFailed {
				clean = append(clean, s)
			}
		}
		return clean
	default:
		return nil
	}
}

type SessionView struct {
	ID                  string               `json:"id"`
	AccountID           string               `json:"accountId"`
	FileName            string               `json:"fileName"`
	Status              domain.SessionStatus `json:"status"`
	TotalRows           int64                `json:"totalRows"`
	ProcessedRows       int64                `json:"processedRows"`
	EnrichedRows        int64                `json:"enrichedRows"`
	SyncedRows          int64                `json:"syncedRows"`
	FailedRows          int64                `json:"failedRows"`
	FieldMappings       map[string]string    `json:"fieldMappings"`
	EnrichmentConfigIDs []string             `json:"enrichmentConfigIds"`
	HasFile             bool                 `json:"hasFile"`
	RetryCount          int                  `json:"retryCount"`
	MaxRetries          int                  `json:"maxRetries"`
	ExpiresAt           time.Time            `json:"expiresAt"`
	CompletedAt         *time.Time           `json:"completedAt"`
	Note                string               `json:"note,omitempty"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

func NewSessionView(s domain.Session) SessionView {
	return SessionView{
		ID:                  s.ID,
		AccountID:           s.AccountID,
		FileName:            s.FileName,
		Status:              s.Status,
		TotalRows:           s.TotalRows,
		ProcessedRows:       s.ProcessedRows,
		EnrichedRows:        s.EnrichedRows,
		SyncedRows:          s.SyncedRows,
		FailedRows:          s.FailedRows,
		FieldMappings:       s.FieldMappings,
		EnrichmentConfigIDs: s.EnrichmentConfigIDs,
		HasFile:             s.File != nil,
		RetryCount:          s.RetryCount,
		MaxRetries:          s.MaxRetries,
		ExpiresAt:           s.ExpiresAt,
		CompletedAt:         s.CompletedAt,
		Note:                s.Note,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

type FailedRowDetail struct {
	RowIndex     int64             `json:"rowIndex"`
	ErrorMessage string            `json:"errorMessage"`
	RawData      map[string]string `json:"rawData"`
}

type SessionDetail struct {
	Session          SessionView                `json:"session"`
	RowStatusCounts  map[domain.RowStatus]int64 `json:"rowStatusCounts"`
	FailedRowDetails []FailedRowDetail          `json:"failedRowDetails"`
}

type ExportOutput struct {
	FileName string
	Data     []byte
	Rows     int
}

type OriginalFile struct {
	FileName    string
	ContentType string
	Data        []byte
}

// SessionQuery serves the read side of import sessions. Session metadata
// stays readable after expiry; row data and files do not.
type SessionQuery struct {
	repo  domain.SessionRepository
	files domain.FileStore
	now   func() time.Time
}

func NewSessionQuery(repo domain.SessionRepository, files domain.FileStore, now func() time.Time) *SessionQuery {
	if now == nil {
		now = time.Now
	}
	return &SessionQuery{repo: repo, files: files, now: now}
}

func (q *SessionQuery) Detail(ctx context.Context, sessionID string) (SessionDetail, error) {
	session, err := q.session(ctx, sessionID)
	if err != nil {
		return SessionDetail{}, err
	}

	counts, err := q.repo.CountRowsByStatus(ctx, session.ID)
	if err != nil {
		return SessionDetail{}, fmt.Errorf("%w: count rows: %v", ErrQuerySession, err)
	}
	statusCounts := make(map[domain.RowStatus]int64, len(domain.AllRowStatuses))
	for _, s := range domain.AllRowStatuses {
		statusCounts[s] = counts[s]
	}

	failed, err := q.repo.ListRows(ctx, domain.RowQuery{
		SessionID:  session.ID,
		Statuses:   []domain.RowStatus{domain.RowFailed},
		AfterIndex: -1,
		Limit:      maxFailedRowDetails,
	})
	if err != nil {
		return SessionDetail{}, fmt.Errorf("%w: list failed rows: %v", ErrQuerySession, err)
	}
	details := make([]FailedRowDetail, 0, len(failed))
	for _, row := range failed {
		details = append(details, FailedRowDetail{
			RowIndex:     row.RowIndex,
			ErrorMessage: row.ErrorMessage,
			RawData:      row.RawData,
		})
	}

	return SessionDetail{
		Session:          NewSessionView(*session),
		RowStatusCounts:  statusCounts,
		FailedRowDetails: details,
	}, nil
}

// Export renders the session rows selected by filter as CSV. Columns are the
// raw keys followed by enrichment-only keys; flagged exports add the error.
func (q *SessionQuery) Export(ctx context.Context, sessionID string, filter ExportFilter) (ExportOutput, error) {
	session, err := q.session(ctx, sessionID)
	if err != nil {
		return ExportOutput{}, err
	}
	if session.IsExpired(q.now()) {
		return ExportOutput{}, ErrSessionExpired
	}

	var rows []domain.Row
	after := int64(-1)
	for {
		page, err := q.repo.ListRows(ctx, domain.RowQuery{
			SessionID:  session.ID,
			Statuses:   filter.statuses(),
			AfterIndex: after,
			Limit:      exportPageSize,
		})
		if err != nil {
			return ExportOutput{}, fmt.Errorf("%w: list rows: %v", ErrQuerySession, err)
		}
		rows = append(rows, page...)
		if len(page) < exportPageSize {
			break
		}
		after = page[len(page)-1].RowIndex
	}

	columns := domain.Columns(rows)
	header := columns
	if filter == ExportFlagged {
		header = append(append([]string{}, columns...), errorColumn)
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		merged := row.Merged()
		record := make([]string, 0, len(header))
		for _, column := range columns {
			record = append(record, merged[column])
		}
		if filter == ExportFlagged {
			record = append(record, row.ErrorMessage)
		}
		records = append(records, record)
	}

	data, err := encodeCSV(header, records)
	if err != nil {
		return ExportOutput{}, fmt.Errorf("%w: encode csv: %v", ErrQuerySession, err)
	}
	base := strings.TrimSuffix(session.FileName, pathExt(session.FileName))
	return ExportOutput{
		FileName: fmt.Sprintf("%s-%s.csv", base, filter),
		Data:     data,
		Rows:     len(rows),
	}, nil
}

// OriginalFile returns the uploaded bytes while the session is retained.
func (q *SessionQuery) OriginalFile(ctx context.Context, sessionID string) (OriginalFile, error) {
	session, err := q.session(ctx, sessionID)
	if err != nil {
		return OriginalFile{}, err
	}
	if session.IsExpired(q.now()) {
		return OriginalFile{}, ErrSessionExpired
	}
	if session.File == nil || q.files == nil {
		return OriginalFile{}, ErrFileNotFound
	}
	data, err := q.files.Get(ctx, session.File.Key)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return OriginalFile{}, err
		}
		return OriginalFile{}, fmt.Errorf("%w: read file: %v", ErrQuerySession, err)
	}
	return OriginalFile{
		FileName:    session.FileName,
		ContentType: session.File.ContentType,
		Data:        data,
	}, nil
}

func (q *SessionQuery) session(ctx context.Context, sessionID string) (*domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	session, err := q.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrQuerySession, err)
	}
	return session, nil
}

func pathExt(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[i:]
	}
	return ""
}
