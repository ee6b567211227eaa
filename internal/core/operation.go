package core

import "time"

// OperationMetadata records who performed an operation, where and when,
// plus the free-text description and the command arguments that caused it.
type OperationMetadata struct {
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Description string    `json:"description"`
	Hostname    string    `json:"hostname"`
	Username    string    `json:"username"`
	Args        []string  `json:"args,omitempty"`
}

// Operation is one immutable node of the operation DAG: a link from a
// resulting view to the operation(s) it was derived from. Zero parents
// marks the repo-initializing operation, one parent is the normal case,
// two or more mark a reconciliation of divergent heads.
type Operation struct {
	ID OperationID `json:"-"`

	V         int               `json:"v"`
	ParentIDs []OperationID     `json:"parent_ids"`
	ViewID    ViewID            `json:"view_id"`
	Metadata  OperationMetadata `json:"metadata"`
}
