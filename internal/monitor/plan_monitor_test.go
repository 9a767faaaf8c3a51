package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/taskplan/internal/model"
	"github.com/t77yq/taskplan/internal/testutil"
)

func TestPlanMonitor(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	// The plan stream normally exists before the monitor starts.
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     "PLAN",
		Subjects: []string{"plan.*"},
		Storage:  nats.FileStorage,
	})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	planMonitor := NewPlanMonitor(js, 1*time.Second, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	require.NoError(t, planMonitor.Start(ctx))
	defer planMonitor.Stop()

	deadline := 4
	event := model.StepEvent{
		Time:    5,
		Started: []string{"C"},
		Completed: []model.Completion{
			{TaskID: "A", FinishedAt: 5, Status: model.DeadlineNone},
			{TaskID: "T", FinishedAt: 5, Deadline: &deadline, Status: model.DeadlineMissed},
		},
		UsedCapacity: 2,
		FreeCapacity: 2,
		Running:      1,
		PublishedAt:  time.Now(),
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	_, err = js.Publish("plan.step", data)
	require.NoError(t, err)

	t.Run("TracksStepEvents", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return planMonitor.LastEvent() != nil
		}, 3*time.Second, 50*time.Millisecond)

		last := planMonitor.LastEvent()
		assert.Equal(t, 5, last.Time)
		assert.Equal(t, 2, last.UsedCapacity)
	})

	t.Run("RaisesDeadlineAlerts", func(t *testing.T) {
		msgs, err := testutil.ConsumeMessages(js, "alert.deadline_missed", 2*time.Second)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)

		var alert model.Alert
		require.NoError(t, json.Unmarshal(msgs[0], &alert))
		assert.Equal(t, model.AlertSeverityWarning, alert.Severity)
		assert.Equal(t, "T", alert.Data["task_id"])

		missed := planMonitor.MissedDeadlines()
		require.Len(t, missed, 1)
		assert.Equal(t, "T", missed[0].TaskID)
	})

	t.Run("PublishesMetrics", func(t *testing.T) {
		msgs, err := testutil.ConsumeMessages(js, "metrics.plan", 3*time.Second)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)

		var metrics PlanMetrics
		require.NoError(t, json.Unmarshal(msgs[len(msgs)-1], &metrics))
		assert.NotZero(t, metrics.Timestamp)
		assert.GreaterOrEqual(t, metrics.CPUUsage, 0.0)
		assert.Equal(t, 1, metrics.StepsSeen)
		assert.Equal(t, 1, metrics.MissedDeadlines)
	})
}
