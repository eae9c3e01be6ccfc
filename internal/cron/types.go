// Package cron schedules recurring or one-shot prompts against a
// registered group's agent session.
package cron

import (
	"time"

	"github.com/google/uuid"
)

// Schedule describes when a job fires. Exactly one kind is used:
// "cron" evaluates Expr (with seconds field), "every" fires on a fixed
// interval, "at" fires once at a wall-clock instant.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"every_ms,omitempty"`
	AtMs    int64  `json:"at_ms,omitempty"`
}

// Payload is what a firing job does: run Message as a prompt in the
// group identified by Folder, delivering the result to the group's chat
// when Deliver is set.
type Payload struct {
	Folder  string `json:"folder"`
	Message string `json:"message"`
	Deliver bool   `json:"deliver,omitempty"`
}

// JobState records the outcome of the most recent run.
type JobState struct {
	LastRunAtMs int64  `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Job is one scheduled prompt.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"delete_after_run,omitempty"`
	CreatedAtMs    int64    `json:"created_at_ms"`
	State          JobState `json:"state"`
}

// NewJob creates an enabled job with a fresh ID.
func NewJob(name string, schedule Schedule, payload Payload) Job {
	return Job{
		ID:          uuid.NewString(),
		Name:        name,
		Schedule:    schedule,
		Payload:     payload,
		Enabled:     true,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
