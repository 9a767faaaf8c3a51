package model

import "time"

// CommandType identifies a registry mutation requested between steps.
type CommandType string

const (
	CommandAdd    CommandType = "add"
	CommandModify CommandType = "modify"
	CommandRemove CommandType = "remove"
)

// Command is a registry mutation consumed between two scheduling steps.
// Exactly one of Task / Update is set depending on Type.
type Command struct {
	Type   CommandType `json:"type"`
	TaskID string      `json:"task_id,omitempty"`
	Task   *Task       `json:"task,omitempty"`
	Update *TaskUpdate `json:"update,omitempty"`
}

// StepEvent is the externally published view of one scheduling step,
// enriched with capacity usage and per-completion deadline outcomes.
type StepEvent struct {
	Time         int          `json:"time"`
	Started      []string     `json:"started"`
	Completed    []Completion `json:"completed"`
	UsedCapacity int          `json:"used_capacity"`
	FreeCapacity int          `json:"free_capacity"`
	Running      int          `json:"running"`
	Blocked      int          `json:"blocked"`
	Terminal     bool         `json:"terminal"`
	PublishedAt  time.Time    `json:"published_at"`
}

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo    AlertSeverity = "info"
	AlertSeverityWarning AlertSeverity = "warning"
	AlertSeverityError   AlertSeverity = "error"
)

// Alert represents a monitoring alert, currently raised for missed
// deadlines and sustained full-capacity utilization.
type Alert struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Severity  AlertSeverity          `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
