package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/taskplan/internal/model"
)

// Registry is the single-owner store of task definitions. Mutations arrive
// as explicit commands between scheduling steps; reads within one step see
// a consistent snapshot.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	tasks  map[string]*model.Task
}

// NewRegistry creates a registry pre-loaded with the given tasks.
func NewRegistry(initial map[string]*model.Task, logger *zap.Logger) *Registry {
	r := &Registry{
		logger: logger.Named("registry"),
		tasks:  make(map[string]*model.Task, len(initial)),
	}
	for id, task := range initial {
		t := task.Clone()
		t.ID = id
		r.tasks[id] = t
	}
	return r
}

// Add inserts a task. Reinserting an existing id overwrites the prior
// definition.
func (r *Registry) Add(task *model.Task) error {
	if err := validateTask(task); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; exists {
		r.logger.Info("Overwriting existing task", zap.String("task_id", task.ID))
	}
	r.tasks[task.ID] = task.Clone()
	return nil
}

// Modify applies a partial update to an existing task. Fields not set in
// the update keep their prior values.
func (r *Registry) Modify(id string, update model.TaskUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("modify %s: %w", id, ErrTaskNotFound)
	}

	if update.Duration != nil {
		task.Duration = *update.Duration
	}
	if update.Workers != nil {
		task.Workers = *update.Workers
	}
	if update.Priority != nil {
		task.Priority = *update.Priority
	}
	if update.Deadline != nil {
		d := *update.Deadline
		task.Deadline = &d
	}
	if update.Dependencies != nil {
		task.Dependencies = append([]string(nil), (*update.Dependencies)...)
	}
	return nil
}

// Remove deletes a task definition.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, ErrTaskNotFound)
	}
	delete(r.tasks, id)
	return nil
}

// Get returns a copy of the task with the given id.
func (r *Registry) Get(id string) (*model.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// IDs returns all task ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of every task, keyed by id. The engine reads one
// snapshot per step so mid-step mutations cannot tear its view.
func (r *Registry) Snapshot() map[string]*model.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]*model.Task, len(r.tasks))
	for id, task := range r.tasks {
		snap[id] = task.Clone()
	}
	return snap
}

// validateTask checks the structural invariants of a task definition.
func validateTask(task *model.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTask)
	}
	if task.Duration <= 0 {
		return fmt.Errorf("%w: task %s has non-positive duration", ErrInvalidTask, task.ID)
	}
	if task.Workers <= 0 {
		return fmt.Errorf("%w: task %s has non-positive worker requirement", ErrInvalidTask, task.ID)
	}
	if task.Priority <= 0 {
		return fmt.Errorf("%w: task %s has non-positive priority", ErrInvalidTask, task.ID)
	}
	return nil
}
