package model

// Task represents a unit of planned work. Identity is immutable; the
// remaining attributes may be modified between scheduling steps.
type Task struct {
	ID           string   `json:"id"`
	Duration     int      `json:"duration"`
	Dependencies []string `json:"dependencies,omitempty"`
	Workers      int      `json:"workers"`
	Priority     int      `json:"priority"`
	Deadline     *int     `json:"deadline,omitempty"`
}

// Clone returns a deep copy of the task. Committed (in-progress) tasks hold
// a clone so that later registry mutations cannot move a fixed finish time.
func (t *Task) Clone() *Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	return &c
}

// TaskUpdate is a partial patch applied to an existing task. Nil fields
// keep the prior value.
type TaskUpdate struct {
	Duration     *int      `json:"duration,omitempty"`
	Dependencies *[]string `json:"dependencies,omitempty"`
	Workers      *int      `json:"workers,omitempty"`
	Priority     *int      `json:"priority,omitempty"`
	Deadline     *int      `json:"deadline,omitempty"`
}

// StepRecord is one entry of the append-only schedule log.
type StepRecord struct {
	Time      int      `json:"time"`
	Started   []string `json:"started"`
	Completed []string `json:"completed"`
}

// StepResult is what Engine.Step returns to the driver.
type StepResult struct {
	Time      int      `json:"time"`
	Started   []string `json:"started"`
	Completed []string `json:"completed"`
	Terminal  bool     `json:"terminal"`
}

// DeadlineStatus classifies a completed task against its deadline.
// Deadlines are observational only and never influence scheduling.
type DeadlineStatus string

const (
	DeadlineMet    DeadlineStatus = "met"
	DeadlineMissed DeadlineStatus = "missed"
	DeadlineNone   DeadlineStatus = "none"
)

// Completion records when a task finished and how it fared against its
// deadline, if it had one.
type Completion struct {
	TaskID     string         `json:"task_id"`
	FinishedAt int            `json:"finished_at"`
	Deadline   *int           `json:"deadline,omitempty"`
	Status     DeadlineStatus `json:"status"`
}
