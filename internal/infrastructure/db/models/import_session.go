package models

import (
	"time"

	"gorm.io/datatypes"
)

type ImportSession struct {
	ID                  string         `gorm:"type:uuid;primaryKey"`
	AccountID           string         `gorm:"type:text;not null;index"`
	FileName            string         `gorm:"type:text;not null"`
	Status              string         `gorm:"type:text;not null;index"`
	TotalRows           int64          `gorm:"not null;default:0"`
	ProcessedRows       int64          `gorm:"not null;default:0"`
	EnrichedRows        int64          `gorm:"not null;default:0"`
	SyncedRows          int64          `gorm:"not null;default:0"`
	FailedRows          int64          `gorm:"not null;default:0"`
	FieldMappings       datatypes.JSON `gorm:"type:jsonb;not null"`
	EnrichmentConfigIDs datatypes.JSON `gorm:"column:enrichment_config_ids;type:jsonb;not null"`
	FileKey             *string        `gorm:"type:text"`
	FileContentType     *string        `gorm:"type:text"`
	FileSize            int64          `gorm:"not null;default:0"`
	RetryCount          int            `gorm:"not null;default:0"`
	MaxRetries          int            `gorm:"not null;default:3"`
	ExpiresAt           time.Time      `gorm:"not null;index"`
	CompletedAt         *time.Time
	Note                *string `gorm:"type:text"`
	CreatedAt           time.Time
	UpdatedAt           time.Time

	Rows []ImportRow `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (ImportSession) TableName() string {
	return "import_sessions"
}
