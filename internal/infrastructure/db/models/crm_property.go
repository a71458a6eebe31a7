package models

import "time"

// CRMProperty is the last known list of contact properties, used when the
// cache is cold and the CRM is unreachable.
type CRMProperty struct {
	Name        string    `gorm:"type:text;primaryKey"`
	RefreshedAt time.Time `gorm:"not null"`
}

func (CRMProperty) TableName() string {
	return "crm_contact_properties"
}
