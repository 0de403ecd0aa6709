// Package migration implements the Migration Engine: execution of one
// volume's tier change as a strictly ordered, monitored state machine.
package migration

import (
	"time"

	"github.com/google/uuid"
)

// State is a phase of the migration state machine.
type State string

const (
	Idle        State = "Idle"
	Analyzing   State = "Analyzing"
	ScalingUp   State = "ScalingUp"
	WaitingSync State = "WaitingSync"
	ScalingDown State = "ScalingDown"
	Completed   State = "Completed"
	Failed      State = "Failed"
	Aborted     State = "Aborted"
)

// Terminal reports whether s is a state the engine never transitions out of.
func (s State) Terminal() bool {
	switch s {
	case Completed, Failed, Aborted:
		return true
	default:
		return false
	}
}

// AuditStep records one state transition within a task's lifetime.
type AuditStep struct {
	State     State
	Timestamp time.Time
	Detail    string
}

// TaskSpec describes the migration to run.
type TaskSpec struct {
	PolicyName       string
	VolumeName       string
	SourcePool       string
	TargetPool       string
	PreservationMode bool
	DryRun           bool

	SyncPollInterval time.Duration
	SyncTimeout      time.Duration
	MaxRetries       int
}

// Task is the transient, in-progress record of one migration. It is owned
// exclusively by the engine for its lifetime and is observable read-only
// by the policy reconciler through the active set.
type Task struct {
	ID        string
	Spec      TaskSpec
	State     State
	StartTime time.Time
	Audit     []AuditStep
}

// newTaskID returns a fresh, opaque identifier correlating one migration
// task's audit trail and tracing spans across engine, status history and
// logs.
func newTaskID() string {
	return uuid.New().String()
}

// Result is the terminal outcome of one migration.
type Result struct {
	TaskID     string
	VolumeName string
	SourcePool string
	TargetPool string

	State     State
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Error is non-empty when State is Failed or Aborted.
	Error string

	Audit []AuditStep

	// NoOp is true when the task short-circuited to Completed without
	// issuing any mutating call: either the volume was already on the
	// target pool, or the task was a dry run.
	NoOp bool
}

// Success reports whether the migration reached Completed.
func (r *Result) Success() bool {
	return r.State == Completed
}
