package scheduler

import "container/heap"

// completionEvent marks the future time at which an in-progress task
// finishes and releases its workers.
type completionEvent struct {
	finishAt int
	taskID   string
}

// eventHeap is a min-heap of completion events keyed by finish time.
type eventHeap []completionEvent

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].finishAt < h[j].finishAt }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(completionEvent)) }

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// timeline is the time-ordered queue of pending completions. The engine
// pushes exactly one live event per in-progress task.
type timeline struct {
	events eventHeap
}

func newTimeline() *timeline {
	t := &timeline{}
	heap.Init(&t.events)
	return t
}

// push schedules a completion event.
func (t *timeline) push(finishAt int, taskID string) {
	heap.Push(&t.events, completionEvent{finishAt: finishAt, taskID: taskID})
}

// peekMin returns the earliest pending finish time.
func (t *timeline) peekMin() (int, bool) {
	if len(t.events) == 0 {
		return 0, false
	}
	return t.events[0].finishAt, true
}

// popDue removes and returns every event with finishAt <= now, in finish
// order.
func (t *timeline) popDue(now int) []completionEvent {
	var due []completionEvent
	for len(t.events) > 0 && t.events[0].finishAt <= now {
		due = append(due, heap.Pop(&t.events).(completionEvent))
	}
	return due
}

func (t *timeline) len() int {
	return len(t.events)
}
