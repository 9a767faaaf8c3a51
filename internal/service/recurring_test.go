package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/taskplan/internal/model"
	"github.com/t77yq/taskplan/internal/testutil"
)

func TestRecurringFeeder(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     planStreamName,
		Subjects: []string{"plan.*"},
		Storage:  nats.FileStorage,
	})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	feeder := NewRecurringFeeder(js, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, feeder.Start(ctx))
	defer feeder.Stop()

	t.Run("InvalidExpressionRejected", func(t *testing.T) {
		err := feeder.AddRecurring(&RecurringTask{
			Name:       "broken",
			Expression: "not a cron spec",
			Template:   model.Task{ID: "x", Duration: 1, Workers: 1, Priority: 1},
		})
		require.Error(t, err)
		assert.Empty(t, feeder.ListRecurring())
	})

	t.Run("FiringPublishesAddCommand", func(t *testing.T) {
		rec := &RecurringTask{
			Name:       "audit",
			Expression: "* * * * * *", // every second
			Template:   model.Task{ID: "audit", Duration: 1, Workers: 1, Priority: 1},
		}
		require.NoError(t, feeder.AddRecurring(rec))
		require.Len(t, feeder.ListRecurring(), 1)
		require.NotNil(t, rec.NextRunTime)

		msgs, err := testutil.ConsumeMessages(js, planCommandSubject, 2500*time.Millisecond)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)

		var cmd model.Command
		require.NoError(t, json.Unmarshal(msgs[0], &cmd))
		assert.Equal(t, model.CommandAdd, cmd.Type)
		require.NotNil(t, cmd.Task)
		assert.True(t, strings.HasPrefix(cmd.Task.ID, "audit-"),
			"instance id %q should derive from the template id", cmd.Task.ID)
		assert.Equal(t, 1, cmd.Task.Duration)

		require.NoError(t, feeder.RemoveRecurring(rec.ID))
		assert.Empty(t, feeder.ListRecurring())
	})

	t.Run("RemoveUnknownRejected", func(t *testing.T) {
		err := feeder.RemoveRecurring("nope")
		require.Error(t, err)
	})
}
