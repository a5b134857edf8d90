package model

import "gorm.io/gorm"

// AutoMigrate creates or updates every table the engine owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Document{},
		&Variable{},
		&Signature{},
		&VisibilityPermission{},
		&UsabilityPermission{},
		&Relationship{},
		&OperationLog{},
	)
}
