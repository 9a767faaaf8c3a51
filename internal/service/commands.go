package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/taskplan/internal/model"
	"github.com/t77yq/taskplan/internal/scheduler"
)

const (
	planStreamName     = "PLAN"
	planCommandSubject = "plan.command"
	planStepSubject    = "plan.step"
	streamMaxAge       = 24 * time.Hour
)

// CommandService is the injected mutation source for the engine. Mutation
// commands arrive over NATS at any time and are queued; the driver applies
// the queue between two Step calls, preserving the engine's single-writer
// discipline. It also publishes each step result for external presenters.
type CommandService struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	engine *scheduler.Engine

	mu      sync.Mutex
	pending []model.Command
	sub     *nats.Subscription
}

// NewCommandService creates a command service bound to the given engine.
func NewCommandService(js nats.JetStreamContext, engine *scheduler.Engine, logger *zap.Logger) *CommandService {
	return &CommandService{
		logger: logger.Named("command-service"),
		js:     js,
		engine: engine,
	}
}

// Start ensures the plan stream exists and subscribes to mutation commands.
func (s *CommandService) Start(ctx context.Context) error {
	_, err := s.js.StreamInfo(planStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}
		_, err = s.js.AddStream(&nats.StreamConfig{
			Name:     planStreamName,
			Subjects: []string{"plan.*"},
			Storage:  nats.FileStorage,
			MaxAge:   streamMaxAge,
		})
		if err != nil {
			return fmt.Errorf("failed to create plan stream: %w", err)
		}
		s.logger.Info("Created plan stream", zap.String("stream", planStreamName))
	}

	sub, err := s.js.Subscribe(planCommandSubject, s.handleCommand, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to subscribe to commands: %w", err)
	}
	s.sub = sub

	s.logger.Info("Command service started")
	return nil
}

// Stop unsubscribes from the command subject.
func (s *CommandService) Stop() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}

// handleCommand decodes and queues an incoming mutation command.
func (s *CommandService) handleCommand(msg *nats.Msg) {
	var cmd model.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Error("Failed to unmarshal command", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.pending = append(s.pending, cmd)
	s.mu.Unlock()

	s.logger.Debug("Command queued",
		zap.String("type", string(cmd.Type)),
		zap.String("task_id", commandTaskID(cmd)))
	msg.Ack()
}

// Pending returns the number of queued commands.
func (s *CommandService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Apply drains the command queue and applies each mutation to the engine.
// Invalid mutations are logged and skipped; they never stop the run. The
// driver calls this between two Step calls. Returns the number applied.
func (s *CommandService) Apply() int {
	s.mu.Lock()
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	applied := 0
	for _, cmd := range queued {
		if err := s.applyOne(cmd); err != nil {
			s.logger.Warn("Rejected mutation command",
				zap.String("type", string(cmd.Type)),
				zap.String("task_id", commandTaskID(cmd)),
				zap.Error(err))
			continue
		}
		applied++
	}
	return applied
}

func (s *CommandService) applyOne(cmd model.Command) error {
	switch cmd.Type {
	case model.CommandAdd:
		if cmd.Task == nil {
			return fmt.Errorf("add command without task definition")
		}
		return s.engine.AddTask(cmd.Task)
	case model.CommandModify:
		if cmd.Update == nil {
			return fmt.Errorf("modify command without update")
		}
		return s.engine.ModifyTask(cmd.TaskID, *cmd.Update)
	case model.CommandRemove:
		return s.engine.RemoveTask(cmd.TaskID)
	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

// PublishStep publishes the outcome of one step, enriched with capacity
// usage and per-completion deadline status, to the plan stream.
func (s *CommandService) PublishStep(ctx context.Context, result model.StepResult) error {
	event := s.buildStepEvent(result)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal step event: %w", err)
	}

	if _, err := s.js.Publish(planStepSubject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish step event: %w", err)
	}
	return nil
}

func (s *CommandService) buildStepEvent(result model.StepResult) model.StepEvent {
	completedSet := make(map[string]bool, len(result.Completed))
	for _, id := range result.Completed {
		completedSet[id] = true
	}

	var completions []model.Completion
	for _, c := range s.engine.Completions() {
		if completedSet[c.TaskID] {
			completions = append(completions, c)
		}
	}

	snap := s.engine.Snapshot()
	return model.StepEvent{
		Time:         result.Time,
		Started:      result.Started,
		Completed:    completions,
		UsedCapacity: snap.UsedCapacity,
		FreeCapacity: snap.FreeCapacity,
		Running:      len(snap.Running),
		Blocked:      len(snap.Blocked),
		Terminal:     result.Terminal,
		PublishedAt:  time.Now(),
	}
}

func commandTaskID(cmd model.Command) string {
	if cmd.TaskID != "" {
		return cmd.TaskID
	}
	if cmd.Task != nil {
		return cmd.Task.ID
	}
	return ""
}
