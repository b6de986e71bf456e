// ABOUTME: Store interface and data types for agent-runtime persistence
// ABOUTME: Defines Installation, RuntimeSession, AgentEvent structs and the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInstallationExists is returned when an installation for the same
// (business, agent) pair already exists
var ErrInstallationExists = errors.New("installation already exists")

// ErrSessionExists is returned when an installation already has a
// non-terminal session
var ErrSessionExists = errors.New("active session already exists")

// InstallationStatus tracks an installation through its lifecycle
type InstallationStatus string

const (
	InstallationInstalling   InstallationStatus = "installing"
	InstallationActive       InstallationStatus = "active"
	InstallationError        InstallationStatus = "error"
	InstallationUninstalling InstallationStatus = "uninstalling"
)

// SessionStatus tracks a runtime session through its lifecycle
type SessionStatus string

const (
	SessionStarting SessionStatus = "starting"
	SessionRunning  SessionStatus = "running"
	SessionPaused   SessionStatus = "paused"
	SessionStopping SessionStatus = "stopping"
	SessionCrashed  SessionStatus = "crashed"
)

// EventStatus tracks a dispatched event through delivery
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
	EventRetry      EventStatus = "retry"
)

// EventDirection indicates whether an event flows to or from the agent
type EventDirection string

const (
	DirectionToAgent   EventDirection = "to_agent"
	DirectionFromAgent EventDirection = "from_agent"
)

// Installation binds a business to one installed agent definition,
// together with the permissions the installer granted.
type Installation struct {
	ID           string             `json:"id"`
	BusinessID   string             `json:"business_id"`
	AgentID      string             `json:"agent_id"`
	InstanceName string             `json:"instance_name"`
	Config       json.RawMessage    `json:"config,omitempty"`
	Permissions  []string           `json:"permissions"`
	Status       InstallationStatus `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// RuntimeSession represents one live execution of an installation.
// Sessions are addressed by an opaque token and removed when stopped.
type RuntimeSession struct {
	ID              string        `json:"id"`
	InstallationID  string        `json:"installation_id"`
	SessionToken    string        `json:"session_token"`
	Status          SessionStatus `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	LastHeartbeat   time.Time     `json:"last_heartbeat"`
	MemoryUsageMB   float64       `json:"memory_usage_mb"`
	CPUUsagePercent float64       `json:"cpu_usage_percent"`
	APICallsCount   int64         `json:"api_calls_count"`
	ErrorCount      int64         `json:"error_count"`
	EventsProcessed int64         `json:"events_processed"`
}

// AgentEvent is one directed message between the platform and an agent.
// Completed events are never mutated again.
type AgentEvent struct {
	ID               string          `json:"id"`
	BusinessID       string          `json:"business_id"`
	InstallationID   string          `json:"installation_id"`
	EventType        string          `json:"event_type"`
	Direction        EventDirection  `json:"direction"`
	EventData        json.RawMessage `json:"event_data,omitempty"`
	CorrelationID    string          `json:"correlation_id,omitempty"`
	Status           EventStatus     `json:"status"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	RetryCount       int             `json:"retry_count"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// UsageSample is one batch of resource consumption reported by the
// adapter layer or the dispatcher.
type UsageSample struct {
	CPUSecondsUsed  float64 `json:"cpu_seconds_used"`
	MemoryMBHours   float64 `json:"memory_mb_hours"`
	APICallsMade    int64   `json:"api_calls_made"`
	EventsProcessed int64   `json:"events_processed"`
	DataInBytes     int64   `json:"data_in_bytes"`
	DataOutBytes    int64   `json:"data_out_bytes"`
}

// ResourceUsagePeriod is the accumulated usage of one installation for one
// UTC calendar day. Rows only ever grow within a period.
type ResourceUsagePeriod struct {
	InstallationID  string  `json:"installation_id"`
	PeriodDay       string  `json:"period_day"` // "2006-01-02", UTC
	CPUSecondsUsed  float64 `json:"cpu_seconds_used"`
	MemoryMBHours   float64 `json:"memory_mb_hours"`
	APICallsMade    int64   `json:"api_calls_made"`
	EventsProcessed int64   `json:"events_processed"`
	DataInBytes     int64   `json:"data_in_bytes"`
	DataOutBytes    int64   `json:"data_out_bytes"`
}

// Envelope is the queued unit of work for one event delivery attempt.
type Envelope struct {
	ID            string
	EventID       string
	SessionToken  string
	Payload       json.RawMessage
	CorrelationID string
	EnqueuedAt    time.Time
	VisibleAt     time.Time
}

// Store defines the interface for agent-runtime persistence
type Store interface {
	// Installations
	CreateInstallation(ctx context.Context, inst *Installation, entry *AuditEntry) error
	GetInstallation(ctx context.Context, id string) (*Installation, error)
	ListInstallations(ctx context.Context, businessID string) ([]*Installation, error)
	UpdateInstallationStatus(ctx context.Context, id string, status InstallationStatus, errMsg string) error
	MarkUninstalling(ctx context.Context, id string, entry *AuditEntry) error
	DeleteInstallation(ctx context.Context, id string) error

	// Sessions
	CreateSession(ctx context.Context, sess *RuntimeSession) error
	GetSession(ctx context.Context, id string) (*RuntimeSession, error)
	GetActiveSessionByInstallation(ctx context.Context, installationID string) (*RuntimeSession, error)
	ListSessionsByBusiness(ctx context.Context, businessID string) ([]*RuntimeSession, error)
	ListActiveSessions(ctx context.Context) ([]*RuntimeSession, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error
	TouchHeartbeat(ctx context.Context, id string, at time.Time) error
	RecordEventProcessed(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error

	// Events
	CreateEvent(ctx context.Context, event *AgentEvent) error
	GetEvent(ctx context.Context, id string) (*AgentEvent, error)
	ListEventsByInstallation(ctx context.Context, installationID string, limit int) ([]*AgentEvent, error)
	MarkEventProcessing(ctx context.Context, id string) error
	CompleteEvent(ctx context.Context, id string, processingTimeMs int64) error
	FailEvent(ctx context.Context, id string, errMsg string) (int, error)
	MarkEventRetry(ctx context.Context, id string) error
	ListOrphanPendingEvents(ctx context.Context) ([]*AgentEvent, error)

	// Resource usage
	AddResourceUsage(ctx context.Context, installationID, periodDay string, sample UsageSample) error
	GetResourceUsage(ctx context.Context, installationID string, days int) ([]*ResourceUsagePeriod, error)

	// Audit log
	AppendAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// Event queue
	Enqueue(ctx context.Context, env *Envelope) error
	Dequeue(ctx context.Context, now time.Time) (*Envelope, error)
	Ack(ctx context.Context, envelopeID string) error
	ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the store
	Close() error
}
