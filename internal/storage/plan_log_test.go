package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/taskplan/internal/model"
)

func newTestPlanLog(t *testing.T) *SQLitePlanLog {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "plan_log.db")
	planLog, err := NewSQLitePlanLog(zaptest.NewLogger(t), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { planLog.Close() })

	return planLog
}

func TestPlanLogSteps(t *testing.T) {
	planLog := newTestPlanLog(t)
	ctx := context.Background()

	records := []model.StepRecord{
		{Time: 0, Started: []string{"A"}, Completed: []string{}},
		{Time: 1, Started: []string{}, Completed: []string{}},
		{Time: 2, Started: []string{"B"}, Completed: []string{"A"}},
	}
	for _, rec := range records {
		require.NoError(t, planLog.AppendStep(ctx, rec))
	}

	got, err := planLog.Steps(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, got)

	count, err := planLog.CountSteps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPlanLogCompletions(t *testing.T) {
	planLog := newTestPlanLog(t)
	ctx := context.Background()

	deadline := 4
	completions := []model.Completion{
		{TaskID: "A", FinishedAt: 2, Status: model.DeadlineNone},
		{TaskID: "T", FinishedAt: 5, Deadline: &deadline, Status: model.DeadlineMissed},
	}
	for _, c := range completions {
		require.NoError(t, planLog.RecordCompletion(ctx, c))
	}

	got, err := planLog.Completions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].TaskID)
	assert.Nil(t, got[0].Deadline)
	assert.Equal(t, "T", got[1].TaskID)
	require.NotNil(t, got[1].Deadline)
	assert.Equal(t, 4, *got[1].Deadline)
	assert.Equal(t, model.DeadlineMissed, got[1].Status)
}

func TestPlanLogCompletionUpsert(t *testing.T) {
	planLog := newTestPlanLog(t)
	ctx := context.Background()

	require.NoError(t, planLog.RecordCompletion(ctx, model.Completion{
		TaskID: "A", FinishedAt: 2, Status: model.DeadlineNone,
	}))
	// Re-recording the same task replaces the row, e.g. after a deadline
	// is granted retroactively.
	deadline := 3
	require.NoError(t, planLog.RecordCompletion(ctx, model.Completion{
		TaskID: "A", FinishedAt: 2, Deadline: &deadline, Status: model.DeadlineMet,
	}))

	got, err := planLog.Completions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.DeadlineMet, got[0].Status)
}

func TestPlanLogEmpty(t *testing.T) {
	planLog := newTestPlanLog(t)
	ctx := context.Background()

	steps, err := planLog.Steps(ctx)
	require.NoError(t, err)
	assert.Empty(t, steps)

	count, err := planLog.CountSteps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
