// Package persistence holds the gorm models of the pending-operation
// journal and their schema.
package persistence

import (
	"fmt"

	"gorm.io/gorm"

	"courseledger/internal/infrastructure/persistence/models"
)

// Migrate creates or updates the journal schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.PendingOperationModel{}); err != nil {
		return fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return nil
}
