package state

import (
	"encoding/json"
	"fmt"
	"time"

	"videoupscaler/internal/job"
)

// KeyLastOperation is the store key of the last-operation record.
const KeyLastOperation = "last_operation"

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// LastOperation is the record a resume reconstructs the job from.
type LastOperation struct {
	JobID       string     `json:"job_id"`
	Params      job.Params `json:"params"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LoadLastOperation reads the record. It returns ErrNotFound when no job
// has ever been started against store.
func LoadLastOperation(store Store) (*LastOperation, error) {
	data, err := store.Read(KeyLastOperation)
	if err != nil {
		return nil, err
	}
	var op LastOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("parse last operation: %w", err)
	}
	return &op, nil
}

// SaveLastOperation overwrites the record.
func SaveLastOperation(store Store, op *LastOperation) error {
	data, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal last operation: %w", err)
	}
	if err := store.Write(KeyLastOperation, data); err != nil {
		return fmt.Errorf("save last operation: %w", err)
	}
	return nil
}
