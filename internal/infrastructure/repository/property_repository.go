package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mohammadpnp/contact-import/internal/infrastructure/db/models"
)

// PropertyRepository persists the last fetched CRM contact property names.
type PropertyRepository struct {
	db *gorm.DB
}

func NewPropertyRepository(db *gorm.DB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

func (r *PropertyRepository) Load(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&models.CRMProperty{}).
		Order("name ASC").
		Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("load crm properties: %w", err)
	}
	return names, nil
}

// Save replaces the stored property list.
func (r *PropertyRepository) Save(ctx context.Context, names []string) error {
	now := time.Now().UTC()
	rows := make([]models.CRMProperty, 0, len(names))
	for _, name := range names {
		rows = append(rows, models.CRMProperty{Name: name, RefreshedAt: now})
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CRMProperty{}).Error; err != nil {
			return fmt.Errorf("clear crm properties: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, createRowBatchSize).Error; err != nil {
			return fmt.Errorf("save crm properties: %w", err)
		}
		return nil
	})
}
