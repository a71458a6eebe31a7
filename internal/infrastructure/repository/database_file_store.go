package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/db/models"
)

// DatabaseFileStore keeps uploads in the import_files table.
type DatabaseFileStore struct {
	db *gorm.DB
}

func NewDatabaseFileStore(db *gorm.DB) *DatabaseFileStore {
	return &DatabaseFileStore{db: db}
}

func (s *DatabaseFileStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	file := models.StoredFile{
		Key:         key,
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"content_type", "data"}),
		}).
		Create(&file).Error
	if err != nil {
		return fmt.Errorf("store file: %w", err)
	}
	return nil
}

func (s *DatabaseFileStore) Get(ctx context.Context, key string) ([]byte, error) {
	var file models.StoredFile
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return file.Data, nil
}

func (s *DatabaseFileStore) Delete(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.StoredFile{})
	if res.Error != nil {
		return fmt.Errorf("delete file: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}
