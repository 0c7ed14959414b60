// Package models defines the core entities shared by every pipectl component:
// jobs, pipeline registrations, pipeline dependencies and lifecycle events.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"time"
)

// IDPattern is the validation pattern for job and pipeline identifiers.
var IDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ValidID reports whether id is a well-formed job/pipeline identifier.
func ValidID(id string) bool {
	return IDPattern.MatchString(id)
}

// JobStatus is the job lifecycle state.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
	StatusPaused    JobStatus = "paused"
)

// Terminal reports whether the status is one a job never leaves
// (completed or cancelled). Failed is not terminal: a retry request can
// re-queue a failed job.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ErrorKind is the closed taxonomy of reasons a job attempt can fail.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindNotFound         ErrorKind = "not_found"
	KindConflict         ErrorKind = "conflict"
	KindHandlerTransient ErrorKind = "handler_transient"
	KindHandlerPermanent ErrorKind = "handler_permanent"
	KindInfrastructure   ErrorKind = "infrastructure"
	KindCircuitBroken    ErrorKind = "circuit_broken"
)

// ErrorInfo records why a job failed.
type ErrorInfo struct {
	Message   string    `json:"message"`
	Kind      ErrorKind `json:"kind"`
	Code      string    `json:"code,omitempty"`
	Stack     string    `json:"stack,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     string    `json:"cause,omitempty"`
}

// Scan implements sql.Scanner so ErrorInfo can live in a jsonb column.
func (e *ErrorInfo) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("models: ErrorInfo.Scan: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, e)
}

// Value implements driver.Valuer.
func (e ErrorInfo) Value() (driver.Value, error) {
	return json.Marshal(e)
}

// JSONMap is an opaque key/value container used for job payload/result and
// for labels. It round-trips through a jsonb column via Value/Scan.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("models: JSONMap.Scan: type assertion to []byte failed")
	}
	if len(bytes) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// StringMap is used for the Labels column, with the same Scan/Value shape.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

func (m *StringMap) Scan(value interface{}) error {
	if value == nil {
		*m = StringMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("models: StringMap.Scan: type assertion to []byte failed")
	}
	if len(bytes) == 0 {
		*m = StringMap{}
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Job is the central entity of the system: one record for a pipeline run,
// reused across its retry attempts (Attempt counts them).
type Job struct {
	ID         string    `json:"id" gorm:"primaryKey;size:100"`
	PipelineID string    `json:"pipelineId" gorm:"index;size:100;not null"`
	Status     JobStatus `json:"status" gorm:"type:varchar(20);index;not null"`
	Attempt    int       `json:"attempt" gorm:"not null;default:1"`
	MaxRetries int       `json:"maxRetries" gorm:"not null;default:3"`

	Payload JSONMap    `json:"payload" gorm:"type:jsonb"`
	Result  JSONMap    `json:"result" gorm:"type:jsonb"`
	Error   *ErrorInfo `json:"errorInfo,omitempty" gorm:"type:jsonb"`

	CreatedAt     time.Time  `json:"createdAt" gorm:"index;not null"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`

	BranchName *string `json:"branchName,omitempty"`
	PRUrl      *string `json:"prUrl,omitempty"`

	// Supplemental fields: priority/labels/progress reporting, surfaced
	// through the REST API alongside the core lifecycle fields.
	Priority     int       `json:"priority" gorm:"not null;default:0"`
	Labels       StringMap `json:"labels,omitempty" gorm:"type:jsonb"`
	Progress     int       `json:"progress" gorm:"not null;default:0"`
	ProgressText string    `json:"progressText,omitempty"`
}

// TableName pins the GORM table name regardless of pluralization quirks.
func (Job) TableName() string { return "jobs" }

// Validate checks the structural invariants a Job must satisfy before it
// is accepted by the store.
func (j *Job) Validate() error {
	if !ValidID(j.ID) {
		return errors.New("models: invalid job id")
	}
	if !ValidID(j.PipelineID) {
		return errors.New("models: invalid pipeline id")
	}
	if j.StartedAt != nil && j.CompletedAt != nil && j.StartedAt.After(*j.CompletedAt) {
		return errors.New("models: startedAt must be <= completedAt")
	}
	if j.Status == StatusFailed && j.Error == nil {
		return errors.New("models: failed job must carry errorInfo")
	}
	return nil
}
