package scheduler

import "errors"

var (
	// ErrTaskNotFound is returned when a mutation references an unknown task
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskInProgress is returned when removing a task that is running
	ErrTaskInProgress = errors.New("task is in progress")

	// ErrTaskCompleted is returned when removing a task that already finished
	ErrTaskCompleted = errors.New("task already completed")

	// ErrInvalidTask is returned when a task definition fails validation
	ErrInvalidTask = errors.New("invalid task definition")

	// ErrCapacityExceeded is returned when a task can never fit the worker budget
	ErrCapacityExceeded = errors.New("task exceeds total capacity")
)
