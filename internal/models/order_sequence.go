package models

import "time"

// OrderSequence holds the last purchase-order number handed out for one
// number prefix in one calendar month (Period is YYYYMM).
type OrderSequence struct {
	Prefix    string `gorm:"primaryKey;size:16"`
	Period    string `gorm:"primaryKey;size:6"`
	LastValue int    `gorm:"not null"`
	UpdatedAt time.Time
}
