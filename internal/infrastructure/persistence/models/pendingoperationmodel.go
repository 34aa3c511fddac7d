package models

import (
	"time"

	"gorm.io/datatypes"
)

const TablePendingOperations = "pending_operations"

// PendingOperationModel is a ledger operation that was broadcast but has not
// yet settled in the index.
type PendingOperationModel struct {
	ID             uint   `gorm:"primarykey"`
	HandleID       string `gorm:"not null;size:32;uniqueIndex:idx_pending_handle"`
	TxID           string `gorm:"size:128"`
	IdempotencyKey string `gorm:"not null;size:64;index:idx_pending_key"`
	OpType         string `gorm:"not null;size:32"`
	SubjectID      string `gorm:"not null;size:128;index:idx_pending_subject"`
	ResourceID     string `gorm:"size:128"`
	Params         datatypes.JSON
	State          string `gorm:"not null;size:20;index:idx_pending_state_updated,priority:1"`
	TargetVersion  uint64
	SubmittedAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index:idx_pending_state_updated,priority:2"`
}

// TableName specifies the table name for GORM
func (PendingOperationModel) TableName() string {
	return TablePendingOperations
}
