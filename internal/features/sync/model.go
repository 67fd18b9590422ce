package sync

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// SyncLog is one source's outcome within a sync run
type SyncLog struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	DataSourceID primitive.ObjectID `json:"data_source_id" bson:"data_source_id"`
	UserID       string             `json:"user_id" bson:"user_id"`
	Provider     string             `json:"provider" bson:"provider"`
	Status       string             `json:"status" bson:"status"`
	RowCount     int                `json:"row_count" bson:"row_count"`
	Error        string             `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt    time.Time          `json:"started_at" bson:"started_at"`
	FinishedAt   time.Time          `json:"finished_at" bson:"finished_at"`
	DurationMs   int64              `json:"duration_ms" bson:"duration_ms"`
}

// SyncResult aggregates one full scheduler pass
type SyncResult struct {
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	RowsProcessed int           `json:"rows_processed"`
	Duration      time.Duration `json:"duration_ms"`
}
