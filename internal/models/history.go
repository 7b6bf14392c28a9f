package models

import (
	"time"

	"github.com/erp-sync/internal/types"
)

// SyncHistoryRecord is one terminal entry in the sync history sink
type SyncHistoryRecord struct {
	OperationID string              `json:"operationId"`
	Entity      types.EntityType    `json:"entity"`
	Direction   types.SyncDirection `json:"direction"`
	Status      types.HistoryStatus `json:"status"`
	ItemsSynced int                 `json:"itemsSynced"`
	Errors      int                 `json:"errors"`
	StartedAt   time.Time           `json:"startedAt"`
	FinishedAt  time.Time           `json:"finishedAt"`
	Duration    time.Duration       `json:"duration"`
	Detail      string              `json:"detail,omitempty"`
}
