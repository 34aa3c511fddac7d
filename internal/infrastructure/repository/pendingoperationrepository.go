package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"courseledger/internal/application/reconcile"
	"courseledger/internal/infrastructure/persistence/mappers"
	"courseledger/internal/infrastructure/persistence/models"
	"courseledger/internal/shared/logger"
)

// PendingOperationRepository is the gorm-backed reconcile.Journal.
type PendingOperationRepository struct {
	db     *gorm.DB
	mapper mappers.PendingOperationMapper
	logger logger.Interface
}

var _ reconcile.Journal = (*PendingOperationRepository)(nil)

func NewPendingOperationRepository(db *gorm.DB, logger logger.Interface) *PendingOperationRepository {
	return &PendingOperationRepository{
		db:     db,
		mapper: mappers.NewPendingOperationMapper(),
		logger: logger,
	}
}

// Save inserts the entry or replaces the row with the same handle.
func (r *PendingOperationRepository) Save(ctx context.Context, e reconcile.JournalEntry) error {
	model, err := r.mapper.ToModel(e)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "handle_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tx_id", "state", "target_version", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		r.logger.Errorw("failed to save pending operation",
			"handle", e.Handle.ID,
			"state", e.State,
			"error", err)
		return fmt.Errorf("failed to save pending operation: %w", err)
	}
	return nil
}

// Delete removes the row of a settled operation. Deleting an unknown handle
// is not an error.
func (r *PendingOperationRepository) Delete(ctx context.Context, handleID string) error {
	result := r.db.WithContext(ctx).
		Where("handle_id = ?", handleID).
		Delete(&models.PendingOperationModel{})
	if result.Error != nil {
		r.logger.Errorw("failed to delete pending operation", "handle", handleID, "error", result.Error)
		return fmt.Errorf("failed to delete pending operation: %w", result.Error)
	}
	return nil
}

// List returns every unsettled operation, oldest submission first. Rows
// that no longer decode are logged and skipped.
func (r *PendingOperationRepository) List(ctx context.Context) ([]reconcile.JournalEntry, error) {
	var rows []models.PendingOperationModel
	if err := r.db.WithContext(ctx).
		Order("submitted_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		r.logger.Errorw("failed to list pending operations", "error", err)
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}

	entries := make([]reconcile.JournalEntry, 0, len(rows))
	for i := range rows {
		e, err := r.mapper.ToEntry(&rows[i])
		if err != nil {
			r.logger.Warnw("skipping undecodable pending operation",
				"handle", rows[i].HandleID,
				"error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Prune deletes rows not touched since before cutoff and returns how many
// were removed.
func (r *PendingOperationRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Delete(&models.PendingOperationModel{})
	if result.Error != nil {
		r.logger.Errorw("failed to prune pending operations", "cutoff", cutoff, "error", result.Error)
		return 0, fmt.Errorf("failed to prune pending operations: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		r.logger.Infow("pruned stale pending operations",
			"count", result.RowsAffected,
			"cutoff", cutoff)
	}
	return result.RowsAffected, nil
}
