package models

import "gorm.io/gorm"

// Migrate runs GORM auto-migrations for every table the server owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Tenant{},
		&Pattern{},
		&Game{},
		&Round{},
		&RoundPattern{},
		&Call{},
		&Card{},
		&WinnerClaim{},
	)
}
