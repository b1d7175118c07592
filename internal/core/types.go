package core

import (
	"encoding/json"
	"time"
)

// PolicySnapshot is a stored copy of one listed policy.
type PolicySnapshot struct {
	PolicyID    string          `json:"policy_id"`
	PolicyType  string          `json:"policy_type"`
	Name        string          `json:"name"`
	Assigned    bool            `json:"assigned"`
	Payload     json.RawMessage `json:"payload"`
	Assignments json.RawMessage `json:"assignments,omitempty"`
	RefreshedAt time.Time       `json:"refreshed_at"`
}

// OperationRecord is one persisted bulk result row.
type OperationRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Operation  string    `json:"operation"`
	PolicyName string    `json:"policy_name"`
	PolicyID   string    `json:"policy_id,omitempty"`
	PolicyType string    `json:"policy_type,omitempty"`
	Status     string    `json:"status"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// OperationQuery selects operation log rows.
type OperationQuery struct {
	RunID     string
	Operation string
	Status    string
	Limit     int
}
