package importing

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

const (
	defaultRetention  = 72 * time.Hour
	defaultMaxRetries = 3
	defaultMaxRows    = 50000
)

type CreateSessionInput struct {
	AccountID           string
	FileName            string
	Rows                []map[string]string
	FieldMappings       map[string]string
	EnrichmentConfigIDs []string
	// File holds the original upload; it is kept until the session expires.
	File        []byte
	ContentType string
}

type CreateSessionOutput struct {
	SessionID string               `json:"sessionId"`
	TotalRows int64                `json:"totalRows"`
	Status    domain.SessionStatus `json:"status"`
	ExpiresAt time.Time            `json:"expiresAt"`
}

type CreateSessionConfig struct {
	Retention  time.Duration
	MaxRetries int
	MaxRows    int
}

type CreateSessionDeps struct {
	Repo   domain.SessionRepository
	Files  domain.FileStore
	Logger *slog.Logger
	Now    func() time.Time
	Config CreateSessionConfig
}

type CreateSession struct {
	repo   domain.SessionRepository
	files  domain.FileStore
	logger *slog.Logger
	now    func() time.Time
	cfg    CreateSessionConfig
}

func NewCreateSession(deps CreateSessionDeps) *CreateSession {
	cfg := deps.Config
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &CreateSession{
		repo:   deps.Repo,
		files:  deps.Files,
		logger: logging.OrDefault(deps.Logger),
		now:    deps.Now,
		cfg:    cfg,
	}
}

func (uc *CreateSession) Execute(ctx context.Context, in CreateSessionInput) (CreateSessionOutput, error) {
	accountID := strings.TrimSpace(in.AccountID)
	fileName := path.Base(strings.TrimSpace(in.FileName))
	switch {
	case accountID == "":
		return CreateSessionOutput{}, fmt.Errorf("%w: account id is required", ErrInvalidSession)
	case fileName == "" || fileName == "." || fileName == "/":
		return CreateSessionOutput{}, fmt.Errorf("%w: file name is required", ErrInvalidSession)
	case len(in.Rows) == 0:
		return CreateSessionOutput{}, fmt.Errorf("%w: at least one row is required", ErrInvalidSession)
	case len(in.Rows) > uc.cfg.MaxRows:
		return CreateSessionOutput{}, fmt.Errorf("%w: %d rows exceeds the limit of %d", ErrInvalidSession, len(in.Rows), uc.cfg.MaxRows)
	}

	now := uc.now().UTC()
	session := domain.Session{
		ID:                  uuid.NewString(),
		AccountID:           accountID,
		FileName:            fileName,
		Status:              domain.SessionUploaded,
		TotalRows:           int64(len(in.Rows)),
		FieldMappings:       cleanMappings(in.FieldMappings),
		EnrichmentConfigIDs: in.EnrichmentConfigIDs,
		MaxRetries:          uc.cfg.MaxRetries,
		ExpiresAt:           now.Add(uc.cfg.Retention),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	rows := make([]domain.Row, 0, len(in.Rows))
	for i, raw := range in.Rows {
		data := make(map[string]string, len(raw))
		for k, v := range raw {
			if k = strings.TrimSpace(k); k != "" {
				data[k] = v
			}
		}
		rows = append(rows, domain.Row{
			ID:           uuid.NewString(),
			SessionID:    session.ID,
			RowIndex:     int64(i),
			RawData:      data,
			EnrichedData: map[string]string{},
			Status:       domain.RowPending,
			MatchType:    domain.MatchNone,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if len(in.File) > 0 && uc.files != nil {
		contentType := strings.TrimSpace(in.ContentType)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ref := &domain.FileRef{
			Key:         path.Join("sessions", session.ID, fileName),
			ContentType: contentType,
			Size:        int64(len(in.File)),
		}
		if err := uc.files.Put(ctx, ref.Key, in.File, ref.ContentType); err != nil {
			return CreateSessionOutput{}, fmt.Errorf("%w: store original file: %v", ErrCreateSession, err)
		}
		session.File = ref
	}

	if err := uc.repo.CreateSession(ctx, session, rows); err != nil {
		if session.File != nil {
			if delErr := uc.files.Delete(context.WithoutCancel(ctx), session.File.Key); delErr != nil {
				uc.logger.Warn("remove orphaned upload failed", "key", session.File.Key, "err", delErr)
			}
		}
		return CreateSessionOutput{}, fmt.Errorf("%w: %v", ErrCreateSession, err)
	}

	uc.logger.Info("import session created",
		"session_id", session.ID, "account_id", accountID, "total_rows", session.TotalRows)

	return CreateSessionOutput{
		SessionID: session.ID,
		TotalRows: session.TotalRows,
		Status:    session.Status,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func cleanMappings(mappings map[string]string) map[string]string {
	cleaned := make(map[string]string, len(mappings))
	for column, target := range mappings {
		column = strings.TrimSpace(column)
		if column == "" {
			continue
		}
		cleaned[column] = strings.TrimSpace(target)
	}
	return cleaned
}
