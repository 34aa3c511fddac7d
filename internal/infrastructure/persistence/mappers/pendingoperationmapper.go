package mappers

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"courseledger/internal/application/ledger"
	"courseledger/internal/application/reconcile"
	"courseledger/internal/infrastructure/persistence/models"
)

// PendingOperationMapper converts journal entries to rows and back.
type PendingOperationMapper interface {
	ToEntry(model *models.PendingOperationModel) (reconcile.JournalEntry, error)
	ToModel(entry reconcile.JournalEntry) (*models.PendingOperationModel, error)
}

type pendingOperationMapper struct{}

func NewPendingOperationMapper() PendingOperationMapper {
	return &pendingOperationMapper{}
}

func (m *pendingOperationMapper) ToEntry(model *models.PendingOperationModel) (reconcile.JournalEntry, error) {
	var params ledger.Params
	if len(model.Params) > 0 {
		if err := json.Unmarshal(model.Params, &params); err != nil {
			return reconcile.JournalEntry{}, fmt.Errorf("failed to decode params of %s: %w", model.HandleID, err)
		}
	}

	op := ledger.Operation{
		Type:           ledger.OperationType(model.OpType),
		SubjectID:      model.SubjectID,
		ResourceID:     model.ResourceID,
		Params:         params,
		IdempotencyKey: model.IdempotencyKey,
	}
	if err := op.Validate(); err != nil {
		return reconcile.JournalEntry{}, fmt.Errorf("invalid journaled operation %s: %w", model.HandleID, err)
	}

	return reconcile.JournalEntry{
		Handle: ledger.Handle{
			ID:          model.HandleID,
			TxID:        model.TxID,
			Operation:   op,
			SubmittedAt: model.SubmittedAt.UTC(),
		},
		State:         reconcile.JournalState(model.State),
		TargetVersion: model.TargetVersion,
		UpdatedAt:     model.UpdatedAt.UTC(),
	}, nil
}

func (m *pendingOperationMapper) ToModel(entry reconcile.JournalEntry) (*models.PendingOperationModel, error) {
	params, err := json.Marshal(entry.Handle.Operation.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	op := entry.Handle.Operation
	return &models.PendingOperationModel{
		HandleID:       entry.Handle.ID,
		TxID:           entry.Handle.TxID,
		IdempotencyKey: op.IdempotencyKey,
		OpType:         string(op.Type),
		SubjectID:      op.SubjectID,
		ResourceID:     op.ResourceID,
		Params:         datatypes.JSON(params),
		State:          string(entry.State),
		TargetVersion:  entry.TargetVersion,
		SubmittedAt:    entry.Handle.SubmittedAt,
		UpdatedAt:      entry.UpdatedAt,
	}, nil
}
