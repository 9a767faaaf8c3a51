package scheduler

import (
	"github.com/t77yq/taskplan/internal/model"
)

// pack selects the subset of candidate tasks whose summed worker
// requirements fit within capacity while maximizing summed priority.
// It is the classic 0/1 knapsack dynamic program over integer capacity.
//
// The value of a task is its raw priority. Selection is locally optimal for
// this step only; there is no lookahead across future steps. Ties between
// equal-value subsets resolve to whichever the DP finds first in the
// caller's (sorted) candidate order.
func pack(candidates []*model.Task, capacity int) []*model.Task {
	if capacity <= 0 || len(candidates) == 0 {
		return nil
	}

	// best[w] is the max priority achievable using at most w workers;
	// chosen[w] holds the candidate indices realizing it.
	best := make([]int, capacity+1)
	chosen := make([][]int, capacity+1)

	for i, task := range candidates {
		if task.Workers > capacity {
			continue
		}
		for w := capacity; w >= task.Workers; w-- {
			if best[w-task.Workers]+task.Priority > best[w] {
				best[w] = best[w-task.Workers] + task.Priority
				picks := make([]int, 0, len(chosen[w-task.Workers])+1)
				picks = append(picks, chosen[w-task.Workers]...)
				chosen[w] = append(picks, i)
			}
		}
	}

	// best is monotonic non-decreasing in w, so the optimum sits at full
	// capacity even when the selection leaves workers idle.
	selected := make([]*model.Task, 0, len(chosen[capacity]))
	for _, i := range chosen[capacity] {
		selected = append(selected, candidates[i])
	}
	return selected
}
