package model

import (
	"time"

	"gorm.io/gorm"
)

// Organization represents a tenant of the CRM
type Organization struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"size:100;not null"`
	Timezone  string         `json:"timezone" gorm:"size:64;default:'UTC'"` // IANA name, canonical for work-date computation
	Status    int            `json:"status" gorm:"default:1"`               // 0: inactive, 1: active
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// Employee represents a staff member of an organization
type Employee struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	OrgID        uint           `json:"org_id" gorm:"index;not null"`
	Code         string         `json:"code" gorm:"size:50;uniqueIndex"`
	FullName     string         `json:"full_name" gorm:"size:100;not null"`
	Email        string         `json:"email" gorm:"size:100"`
	Phone        string         `json:"phone" gorm:"size:20"`
	Status       int            `json:"status" gorm:"default:1"` // 0: inactive, 1: active
	Organization *Organization  `json:"organization,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}
