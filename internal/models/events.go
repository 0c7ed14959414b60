package models

import "time"

// EventType is the closed enum of lifecycle events the event bus carries.
type EventType string

const (
	EventJobCreated       EventType = "job:created"
	EventJobStarted       EventType = "job:started"
	EventJobProgress      EventType = "job:progress"
	EventJobCompleted     EventType = "job:completed"
	EventJobFailed        EventType = "job:failed"
	EventJobCancelled     EventType = "job:cancelled"
	EventPipelineStatus   EventType = "pipeline:status"
	EventRetryScheduled   EventType = "retry:scheduled"
	EventRetryWarning     EventType = "retry:warning"
	EventRetryCircuitOpen EventType = "retry:circuit_open"
	EventCacheHit         EventType = "cache:hit"
	EventCacheMiss        EventType = "cache:miss"
	EventAlertHighImpact  EventType = "alert:high-impact"
	EventStatsUpdate      EventType = "stats:update"
)

// Severity classifies an ActivityEvent for display/alerting purposes.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is a transient lifecycle signal, never persisted.
type Event struct {
	Type       EventType `json:"eventType"`
	JobID      string    `json:"jobId,omitempty"`
	PipelineID string    `json:"pipelineId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Severity   Severity  `json:"severity"`
	Payload    JSONMap   `json:"payload,omitempty"`
}
