package models

import "time"

type Tenant struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Subdomain string    `json:"subdomain" gorm:"size:63;uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
