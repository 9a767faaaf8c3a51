package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/taskplan/internal/model"
)

// activeTask is a committed start: a snapshot of the task as it was when
// selected, plus its fixed finish time. Registry mutations after the start
// do not move the finish time or the reserved workers.
type activeTask struct {
	task     *model.Task
	finishAt int
}

// Engine advances an incremental, capacity-bounded plan one discrete time
// step at a time. The driver may mutate the task registry between calls to
// Step; no mutation may happen during a call (single-writer discipline).
type Engine struct {
	logger   *zap.Logger
	registry *Registry
	capacity int

	mu        sync.Mutex
	now       int
	completed map[string]bool
	active    map[string]*activeTask
	timeline  *timeline
	log       []model.StepRecord
	endTimes  map[string]int
}

// NewEngine creates an engine over the initial task set with a fixed total
// worker capacity. Tasks that can never fit the capacity are kept but
// flagged with a warning; the run still makes progress on the rest.
func NewEngine(initial map[string]*model.Task, capacity int, logger *zap.Logger) *Engine {
	e := &Engine{
		logger:    logger.Named("engine"),
		registry:  NewRegistry(initial, logger),
		capacity:  capacity,
		completed: make(map[string]bool),
		active:    make(map[string]*activeTask),
		timeline:  newTimeline(),
		endTimes:  make(map[string]int),
	}

	for _, id := range e.registry.IDs() {
		task, _ := e.registry.Get(id)
		if task.Workers > capacity {
			e.logger.Warn("Task requires more workers than total capacity and will never start",
				zap.String("task_id", id),
				zap.Int("workers", task.Workers),
				zap.Int("capacity", capacity))
		}
	}

	return e
}

// Capacity returns the total worker budget.
func (e *Engine) Capacity() int {
	return e.capacity
}

// Now returns the current plan time.
func (e *Engine) Now() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// Step advances the plan by one time unit: it drains due completions,
// recomputes the ready set against the current registry, packs the free
// capacity, and commits the selected starts. Calling Step after the run is
// terminal is a no-op that reports Terminal again.
func (e *Engine) Step() model.StepResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	tasks := e.registry.Snapshot()
	if e.terminal(tasks) {
		return model.StepResult{Time: e.now, Terminal: true}
	}

	// Drain completions due at or before the current time. A drained task
	// completes even if its definition was since overwritten.
	var completedNow []string
	for _, ev := range e.timeline.popDue(e.now) {
		delete(e.active, ev.taskID)
		e.completed[ev.taskID] = true
		e.endTimes[ev.taskID] = ev.finishAt
		completedNow = append(completedNow, ev.taskID)
	}

	used := 0
	inProgress := make(map[string]bool, len(e.active))
	for id, at := range e.active {
		used += at.task.Workers
		inProgress[id] = true
	}
	free := e.capacity - used

	ready := readyTasks(tasks, e.completed, inProgress)
	selected := pack(ready, free)

	var startedNow []string
	for _, task := range selected {
		committed := task.Clone()
		finishAt := e.now + committed.Duration
		e.active[committed.ID] = &activeTask{task: committed, finishAt: finishAt}
		e.timeline.push(finishAt, committed.ID)
		startedNow = append(startedNow, committed.ID)
	}

	e.log = append(e.log, model.StepRecord{
		Time:      e.now,
		Started:   startedNow,
		Completed: completedNow,
	})

	e.logger.Debug("Step advanced",
		zap.Int("time", e.now),
		zap.Strings("started", startedNow),
		zap.Strings("completed", completedNow),
		zap.Int("free_capacity", free-startedWorkers(selected)))

	result := model.StepResult{
		Time:      e.now,
		Started:   startedNow,
		Completed: completedNow,
		Terminal:  e.terminal(tasks),
	}
	e.now++
	return result
}

func startedWorkers(tasks []*model.Task) int {
	total := 0
	for _, t := range tasks {
		total += t.Workers
	}
	return total
}

// terminal reports whether every registered task has completed and nothing
// is still running. Caller holds e.mu.
func (e *Engine) terminal(tasks map[string]*model.Task) bool {
	if len(e.active) > 0 {
		return false
	}
	for id := range tasks {
		if !e.completed[id] {
			return false
		}
	}
	return true
}

// AddTask registers a new task, or overwrites an existing definition.
// Visible to the next Step call.
func (e *Engine) AddTask(task *model.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.Add(task); err != nil {
		return err
	}
	if task.Workers > e.capacity {
		e.logger.Warn("Task requires more workers than total capacity and will never start",
			zap.String("task_id", task.ID),
			zap.Int("workers", task.Workers),
			zap.Int("capacity", e.capacity))
	}
	return nil
}

// ModifyTask applies a partial update to a task. Attributes of a task that
// is already in progress only affect future runs of the same id; the
// committed start keeps its original duration and worker reservation.
func (e *Engine) ModifyTask(id string, update model.TaskUpdate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Modify(id, update)
}

// RemoveTask deletes a not-yet-started task. Removal of a task that is in
// progress or already completed is rejected; its committed state is part of
// the plan history.
func (e *Engine) RemoveTask(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, running := e.active[id]; running {
		return fmt.Errorf("remove %s: %w", id, ErrTaskInProgress)
	}
	if e.completed[id] {
		return fmt.Errorf("remove %s: %w", id, ErrTaskCompleted)
	}
	return e.registry.Remove(id)
}

// Log returns a copy of the append-only schedule log.
func (e *Engine) Log() []model.StepRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := make([]model.StepRecord, len(e.log))
	copy(log, e.log)
	return log
}

// EndTimes returns the recorded finish time of every completed task.
func (e *Engine) EndTimes() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	times := make(map[string]int, len(e.endTimes))
	for id, t := range e.endTimes {
		times[id] = t
	}
	return times
}

// Completions classifies every completed task against its deadline. The
// current registry definition wins when the task still exists, so a
// deadline granted after the fact counts.
func (e *Engine) Completions() []model.Completion {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.endTimes))
	for id := range e.endTimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	completions := make([]model.Completion, 0, len(ids))
	for _, id := range ids {
		finished := e.endTimes[id]
		var deadline *int
		if task, ok := e.registry.Get(id); ok {
			deadline = task.Deadline
		}
		completions = append(completions, model.Completion{
			TaskID:     id,
			FinishedAt: finished,
			Deadline:   deadline,
			Status:     classifyDeadline(finished, deadline),
		})
	}
	return completions
}

// PlanSnapshot is a point-in-time view of the run for monitoring.
type PlanSnapshot struct {
	Time         int      `json:"time"`
	Running      []string `json:"running"`
	UsedCapacity int      `json:"used_capacity"`
	FreeCapacity int      `json:"free_capacity"`
	Blocked      []string `json:"blocked"`
}

// Snapshot returns the current time, running set and capacity usage.
func (e *Engine) Snapshot() PlanSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	used := 0
	running := make([]string, 0, len(e.active))
	for id, at := range e.active {
		running = append(running, id)
		used += at.task.Workers
	}
	sort.Strings(running)

	var blocked []string
	for _, b := range e.blockedLocked() {
		blocked = append(blocked, b.TaskID)
	}

	return PlanSnapshot{
		Time:         e.now,
		Running:      running,
		UsedCapacity: used,
		FreeCapacity: e.capacity - used,
		Blocked:      blocked,
	}
}

// BlockedTask describes a task held back by unmet dependencies. Missing
// lists dependencies that no longer exist anywhere, i.e. the task is stuck
// until they are re-added.
type BlockedTask struct {
	TaskID  string   `json:"task_id"`
	Waiting []string `json:"waiting"`
	Missing []string `json:"missing,omitempty"`
}

// BlockedTasks is a diagnostic listing of tasks that cannot start yet. A
// non-empty Missing set means the task will never become ready unless the
// named dependencies reappear.
func (e *Engine) BlockedTasks() []BlockedTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blockedLocked()
}

func (e *Engine) blockedLocked() []BlockedTask {
	tasks := e.registry.Snapshot()

	var blocked []BlockedTask
	for _, id := range sortedIDs(tasks) {
		if e.completed[id] {
			continue
		}
		if _, running := e.active[id]; running {
			continue
		}
		task := tasks[id]

		var waiting, missing []string
		for _, dep := range task.Dependencies {
			if e.completed[dep] {
				continue
			}
			waiting = append(waiting, dep)
			if _, exists := tasks[dep]; !exists {
				missing = append(missing, dep)
			}
		}
		if len(waiting) > 0 {
			blocked = append(blocked, BlockedTask{TaskID: id, Waiting: waiting, Missing: missing})
		}
	}
	return blocked
}

func sortedIDs(tasks map[string]*model.Task) []string {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
