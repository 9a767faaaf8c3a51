package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/taskplan/internal/model"
)

func TestPackPrefersHigherValue(t *testing.T) {
	x := task("X", 1, 2, 5)
	y := task("Y", 1, 2, 3)

	selected := pack([]*model.Task{x, y}, 2)
	require.Len(t, selected, 1)
	assert.Equal(t, "X", selected[0].ID)
}

func TestPackZeroCapacity(t *testing.T) {
	selected := pack([]*model.Task{task("A", 1, 1, 1)}, 0)
	assert.Empty(t, selected)
}

func TestPackNoCandidates(t *testing.T) {
	assert.Empty(t, pack(nil, 5))
}

func TestPackSkipsOversizedTasks(t *testing.T) {
	big := task("big", 1, 6, 100)
	small := task("small", 1, 1, 1)

	selected := pack([]*model.Task{big, small}, 4)
	require.Len(t, selected, 1)
	assert.Equal(t, "small", selected[0].ID)
}

func TestPackFindsOptimalCombination(t *testing.T) {
	a := task("a", 1, 2, 3)
	b := task("b", 1, 3, 4)
	c := task("c", 1, 4, 6)

	// a+b fills 5 workers for value 7, beating c alone at 6.
	selected := pack([]*model.Task{a, b, c}, 5)
	ids := make([]string, 0, len(selected))
	for _, task := range selected {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestPackMayLeaveCapacityIdle(t *testing.T) {
	a := task("a", 1, 3, 10)
	b := task("b", 1, 3, 1)

	// Both fit individually but not together; the higher value wins and one
	// worker slot past it stays idle.
	selected := pack([]*model.Task{a, b}, 4)
	require.Len(t, selected, 1)
	assert.Equal(t, "a", selected[0].ID)
}

func TestPackWorkerSumWithinCapacity(t *testing.T) {
	candidates := []*model.Task{
		task("a", 1, 2, 2),
		task("b", 1, 2, 3),
		task("c", 1, 3, 4),
		task("d", 1, 1, 1),
	}

	for capacity := 0; capacity <= 8; capacity++ {
		selected := pack(candidates, capacity)
		total := 0
		for _, task := range selected {
			total += task.Workers
		}
		assert.LessOrEqual(t, total, capacity, "capacity %d", capacity)
	}
}
