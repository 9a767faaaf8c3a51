package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/taskplan/internal/model"
	"github.com/t77yq/taskplan/internal/scheduler"
	"github.com/t77yq/taskplan/internal/testutil"
)

func intPtr(v int) *int { return &v }

func TestCommandService(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	logger := zaptest.NewLogger(t)
	engine := scheduler.NewEngine(map[string]*model.Task{
		"A": {ID: "A", Duration: 2, Workers: 1, Priority: 1},
	}, 3, logger)

	svc := NewCommandService(js, engine, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	t.Run("AddCommandApplied", func(t *testing.T) {
		data, err := json.Marshal(model.Command{
			Type: model.CommandAdd,
			Task: &model.Task{ID: "B", Duration: 1, Workers: 1, Priority: 2, Dependencies: []string{"A"}},
		})
		require.NoError(t, err)
		_, err = js.Publish(planCommandSubject, data)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return svc.Pending() == 1 },
			2*time.Second, 50*time.Millisecond)

		applied := svc.Apply()
		assert.Equal(t, 1, applied)
		assert.Equal(t, 0, svc.Pending())

		blocked := engine.BlockedTasks()
		require.Len(t, blocked, 1)
		assert.Equal(t, "B", blocked[0].TaskID)
	})

	t.Run("ModifyCommandApplied", func(t *testing.T) {
		data, err := json.Marshal(model.Command{
			Type:   model.CommandModify,
			TaskID: "A",
			Update: &model.TaskUpdate{Priority: intPtr(7)},
		})
		require.NoError(t, err)
		_, err = js.Publish(planCommandSubject, data)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return svc.Pending() == 1 },
			2*time.Second, 50*time.Millisecond)
		assert.Equal(t, 1, svc.Apply())
	})

	t.Run("InvalidMutationRejectedWithoutFailing", func(t *testing.T) {
		data, err := json.Marshal(model.Command{
			Type:   model.CommandRemove,
			TaskID: "unknown",
		})
		require.NoError(t, err)
		_, err = js.Publish(planCommandSubject, data)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return svc.Pending() == 1 },
			2*time.Second, 50*time.Millisecond)

		// The bad command is dropped; nothing is applied and the engine
		// still runs.
		assert.Equal(t, 0, svc.Apply())
		result := engine.Step()
		assert.False(t, result.Terminal)
	})

	t.Run("PublishStep", func(t *testing.T) {
		result := engine.Step()
		require.NoError(t, svc.PublishStep(ctx, result))

		msgs, err := testutil.ConsumeMessages(js, planStepSubject, time.Second)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)

		var event model.StepEvent
		require.NoError(t, json.Unmarshal(msgs[len(msgs)-1], &event))
		assert.Equal(t, result.Time, event.Time)
		assert.LessOrEqual(t, event.UsedCapacity, 3)
		assert.Equal(t, 3, event.UsedCapacity+event.FreeCapacity)
	})
}
