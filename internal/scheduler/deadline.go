package scheduler

import (
	"github.com/t77yq/taskplan/internal/model"
)

// DeadlineReport reconstructs each task's finish time from the schedule log
// and classifies it against the given deadlines. It is a pure function:
// deadlines are observational and never feed back into scheduling.
func DeadlineReport(log []model.StepRecord, deadlines map[string]*int) map[string]model.DeadlineStatus {
	finished := finishTimes(log)

	report := make(map[string]model.DeadlineStatus, len(finished))
	for id, at := range finished {
		report[id] = classifyDeadline(at, deadlines[id])
	}
	return report
}

// finishTimes extracts the completion time of every task that finished
// within the logged run. A task completes at the time of the record whose
// Completed list names it.
func finishTimes(log []model.StepRecord) map[string]int {
	times := make(map[string]int)
	for _, rec := range log {
		for _, id := range rec.Completed {
			times[id] = rec.Time
		}
	}
	return times
}

func classifyDeadline(finishedAt int, deadline *int) model.DeadlineStatus {
	switch {
	case deadline == nil:
		return model.DeadlineNone
	case finishedAt <= *deadline:
		return model.DeadlineMet
	default:
		return model.DeadlineMissed
	}
}
