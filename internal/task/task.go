package task

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Kind discriminates what a task's payload means and which handler runs it.
type Kind string

const KindSnipe Kind = "snipeMemeCoins"

// Task is the persisted unit of deferred work. Status moves monotonically
// along pending -> running -> success|failed; Log only grows within one
// execution attempt.
type Task struct {
	ID        string `json:"id"`
	Type      Kind   `json:"type"`
	Payload   string `json:"payload"`
	Status    Status `json:"status"`
	Log       string `json:"log"`
	UserID    string `json:"user_id,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func New(id string, kind Kind, payload, userID string) Task {
	now := time.Now().UTC().Format(time.RFC3339)
	return Task{
		ID:        id,
		Type:      kind,
		Payload:   payload,
		Status:    StatusPending,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (t *Task) Touch() {
	t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailed
}

// LogLines splits the accumulated log for display.
func (t *Task) LogLines() []string {
	trimmed := strings.TrimSpace(t.Log)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}
