package queue

import (
	"context"
	"encoding/json"
)

// Task statuses visible through the polling endpoint.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Task kinds. Archival is always fire-and-forget; verify tasks only exist
// in async deployments.
const (
	TaskVerify  = "verify"
	TaskArchive = "archive"
)

// Task is one unit of background work, keyed by the session's client token.
type Task struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Answer    string `json:"answer,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// TaskResult is what Result reports for a submitted task id.
type TaskResult struct {
	Status  Status          `json:"status"`
	Outcome json.RawMessage `json:"outcome,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Handler executes one task and returns its JSON-serializable outcome.
type Handler func(ctx context.Context, task Task) (any, error)

// Queue is the submit→id / id→status contract. The synchronous verify path
// never depends on it; only true background work goes through here.
type Queue interface {
	Submit(ctx context.Context, task Task) (string, error)
	Result(ctx context.Context, id string) (TaskResult, bool, error)
}

// Archiver adapts a Queue to the verifier's archival hook.
type Archiver struct {
	Q Queue
}

func (a Archiver) SubmitArchive(ctx context.Context, sessionID string) error {
	_, err := a.Q.Submit(ctx, Task{Type: TaskArchive, SessionID: sessionID})
	return err
}
