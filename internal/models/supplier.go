package models

import "time"

type Supplier struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:150;not null;uniqueIndex"`
	ContactName string `gorm:"size:100"`
	Email       string `gorm:"size:150"`
	Phone       string `gorm:"size:50"`
	Notes       string `gorm:"size:500"`
	Active      bool   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
