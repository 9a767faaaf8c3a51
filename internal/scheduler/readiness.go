package scheduler

import (
	"sort"

	"github.com/t77yq/taskplan/internal/model"
)

// readyTasks returns the tasks eligible to start now: not completed, not in
// progress, and with every dependency already completed. The result is
// sorted by id so the packer sees a deterministic candidate order.
func readyTasks(tasks map[string]*model.Task, completed map[string]bool, inProgress map[string]bool) []*model.Task {
	var ready []*model.Task
	for id, task := range tasks {
		if completed[id] || inProgress[id] {
			continue
		}
		if depsSatisfied(task, completed) {
			ready = append(ready, task)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		return ready[i].ID < ready[j].ID
	})
	return ready
}

func depsSatisfied(task *model.Task, completed map[string]bool) bool {
	for _, dep := range task.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}
