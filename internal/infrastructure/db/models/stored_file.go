package models

import "time"

// StoredFile holds original upload bytes when no object store is configured.
type StoredFile struct {
	Key         string `gorm:"type:text;primaryKey"`
	ContentType string `gorm:"type:text;not null"`
	Data        []byte `gorm:"type:bytea;not null"`
	CreatedAt   time.Time
}

func (StoredFile) TableName() string {
	return "import_files"
}
