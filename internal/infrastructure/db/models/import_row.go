package models

import (
	"time"

	"gorm.io/datatypes"
)

type ImportRow struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	SessionID       string         `gorm:"type:uuid;not null;uniqueIndex:idx_import_rows_session_row,priority:1;index:idx_import_rows_session_status,priority:1"`
	RowIndex        int64          `gorm:"not null;uniqueIndex:idx_import_rows_session_row,priority:2"`
	RawData         datatypes.JSON `gorm:"type:jsonb;not null"`
	EnrichedData    datatypes.JSON `gorm:"type:jsonb;not null"`
	Status          string         `gorm:"type:text;not null;index:idx_import_rows_session_status,priority:2"`
	ContactID       *string        `gorm:"type:text"`
	CompanyID       *string        `gorm:"type:text"`
	TaskID          *string        `gorm:"type:text"`
	MatchType       string         `gorm:"type:text;not null;default:no_match"`
	MatchConfidence float64        `gorm:"not null;default:0"`
	ErrorMessage    *string        `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ImportRow) TableName() string {
	return "import_rows"
}
