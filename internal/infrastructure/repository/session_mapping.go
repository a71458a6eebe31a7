package repository

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/db/models"
)

func toSessionModel(s domain.Session) (models.ImportSession, error) {
	mappings, err := marshalJSON(nonNilMap(s.FieldMappings))
	if err != nil {
		return models.ImportSession{}, fmt.Errorf("encode field mappings: %w", err)
	}
	configIDs := s.EnrichmentConfigIDs
	if configIDs == nil {
		configIDs = []string{}
	}
	configs, err := marshalJSON(configIDs)
	if err != nil {
		return models.ImportSession{}, fmt.Errorf("encode enrichment config ids: %w", err)
	}
	m := models.ImportSession{
		ID:                  s.ID,
		AccountID:           s.AccountID,
		FileName:            s.FileName,
		Status:              string(s.Status),
		TotalRows:           s.TotalRows,
		ProcessedRows:       s.ProcessedRows,
		EnrichedRows:        s.EnrichedRows,
		SyncedRows:          s.SyncedRows,
		FailedRows:          s.FailedRows,
		FieldMappings:       mappings,
		EnrichmentConfigIDs: configs,
		RetryCount:          s.RetryCount,
		MaxRetries:          s.MaxRetries,
		ExpiresAt:           s.ExpiresAt,
		CompletedAt:         s.CompletedAt,
		Note:                nullableText(s.Note),
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
	if s.File != nil {
		m.FileKey = nullableText(s.File.Key)
		m.FileContentType = nullableText(s.File.ContentType)
		m.FileSize = s.File.Size
	}
	return m, nil
}

func fromSessionModel(m models.ImportSession) (domain.Session, error) {
	s := domain.Session{
		ID:            m.ID,
		AccountID:     m.AccountID,
		FileName:      m.FileName,
		Status:        domain.SessionStatus(m.Status),
		TotalRows:     m.TotalRows,
		ProcessedRows: m.ProcessedRows,
		EnrichedRows:  m.EnrichedRows,
		SyncedRows:    m.SyncedRows,
		FailedRows:    m.FailedRows,
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		ExpiresAt:     m.ExpiresAt,
		CompletedAt:   m.CompletedAt,
		Note:          textValue(m.Note),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if err := unmarshalJSON(m.FieldMappings, &s.FieldMappings); err != nil {
		return domain.Session{}, fmt.Errorf("decode field mappings: %w", err)
	}
	if err := unmarshalJSON(m.EnrichmentConfigIDs, &s.EnrichmentConfigIDs); err != nil {
		return domain.Session{}, fmt.Errorf("decode enrichment config ids: %w", err)
	}
	if key := textValue(m.FileKey); key != "" {
		s.File = &domain.FileRef{Key: key, ContentType: textValue(m.FileContentType), Size: m.FileSize}
	}
	return s, nil
}

func toRowModel(r domain.Row) (models.ImportRow, error) {
	raw, err := marshalJSON(nonNilMap(r.RawData))
	if err != nil {
		return models.ImportRow{}, fmt.Errorf("encode raw data: %w", err)
	}
	enriched, err := marshalJSON(nonNilMap(r.EnrichedData))
	if err != nil {
		return models.ImportRow{}, fmt.Errorf("encode enriched data: %w", err)
	}
	matchType := r.MatchType
	if matchType == "" {
		matchType = domain.MatchNone
	}
	return models.ImportRow{
		ID:              r.ID,
		SessionID:       r.SessionID,
		RowIndex:        r.RowIndex,
		RawData:         raw,
		EnrichedData:    enriched,
		Status:          string(r.Status),
		ContactID:       nullableText(r.ContactID),
		CompanyID:       nullableText(r.CompanyID),
		TaskID:          nullableText(r.TaskID),
		MatchType:       string(matchType),
		MatchConfidence: r.MatchConfidence,
		ErrorMessage:    nullableText(r.ErrorMessage),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func fromRowModel(m models.ImportRow) (domain.Row, error) {
	r := domain.Row{
		ID:              m.ID,
		SessionID:       m.SessionID,
		RowIndex:        m.RowIndex,
		Status:          domain.RowStatus(m.Status),
		ContactID:       textValue(m.ContactID),
		CompanyID:       textValue(m.CompanyID),
		TaskID:          textValue(m.TaskID),
		MatchType:       domain.MatchType(m.MatchType),
		MatchConfidence: m.MatchConfidence,
		ErrorMessage:    textValue(m.ErrorMessage),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if err := unmarshalJSON(m.RawData, &r.RawData); err != nil {
		return domain.Row{}, fmt.Errorf("decode raw data: %w", err)
	}
	if err := unmarshalJSON(m.EnrichedData, &r.EnrichedData); err != nil {
		return domain.Row{}, fmt.Errorf("decode enriched data: %w", err)
	}
	if r.RawData == nil {
		r.RawData = map[string]string{}
	}
	if r.EnrichedData == nil {
		r.EnrichedData = map[string]string{}
	}
	return r, nil
}

func marshalJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func unmarshalJSON(data datatypes.JSON, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullableText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func textValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
