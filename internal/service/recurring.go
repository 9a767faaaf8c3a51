package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/taskplan/internal/model"
)

// RecurringTask re-injects a task template into the plan on a cron
// schedule. Each firing publishes an add command with a fresh id derived
// from the template id.
type RecurringTask struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Expression  string     `json:"expression"`
	Template    model.Task `json:"template"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
}

// RecurringFeeder manages cron-driven task injection.
type RecurringFeeder struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	cron     *cron.Cron
	mu       sync.Mutex
	tasks    map[string]*RecurringTask
	entryIDs map[string]cron.EntryID
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewRecurringFeeder creates a feeder publishing to the plan command subject.
func NewRecurringFeeder(js nats.JetStreamContext, logger *zap.Logger) *RecurringFeeder {
	cl := &cronLogger{logger: logger.Named("cron")}
	return &RecurringFeeder{
		logger:   logger.Named("recurring-feeder"),
		js:       js,
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cl))),
		tasks:    make(map[string]*RecurringTask),
		entryIDs: make(map[string]cron.EntryID),
	}
}

// Start starts the cron runner.
func (f *RecurringFeeder) Start(ctx context.Context) error {
	f.cron.Start()
	f.logger.Info("Recurring feeder started")
	return nil
}

// Stop stops the cron runner and waits for in-flight jobs.
func (f *RecurringFeeder) Stop() {
	ctx := f.cron.Stop()
	<-ctx.Done()
}

// AddRecurring registers a recurring task definition.
func (f *RecurringFeeder) AddRecurring(rec *RecurringTask) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	specParser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	spec, err := specParser.Parse(rec.Expression)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.tasks[rec.ID] = rec

	entryID, err := f.cron.AddJob(rec.Expression, &recurringJob{feeder: f, rec: rec})
	if err != nil {
		delete(f.tasks, rec.ID)
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	f.entryIDs[rec.ID] = entryID

	next := spec.Next(time.Now())
	rec.NextRunTime = &next

	f.logger.Info("Added recurring task",
		zap.String("id", rec.ID),
		zap.String("name", rec.Name),
		zap.String("expression", rec.Expression),
		zap.Time("next_run", next))
	return nil
}

// RemoveRecurring removes a recurring task definition.
func (f *RecurringFeeder) RemoveRecurring(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entryID, ok := f.entryIDs[id]
	if !ok {
		return fmt.Errorf("recurring task not found: %s", id)
	}

	f.cron.Remove(entryID)
	delete(f.entryIDs, id)
	delete(f.tasks, id)

	f.logger.Info("Removed recurring task", zap.String("id", id))
	return nil
}

// ListRecurring lists all recurring task definitions.
func (f *RecurringFeeder) ListRecurring() []*RecurringTask {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := make([]*RecurringTask, 0, len(f.tasks))
	for _, rec := range f.tasks {
		list = append(list, rec)
	}
	return list
}

// recurringJob implements cron.Job
type recurringJob struct {
	feeder *RecurringFeeder
	rec    *RecurringTask
}

// Run publishes an add command carrying a fresh instance of the template.
func (j *recurringJob) Run() {
	now := time.Now()
	j.rec.LastRunTime = &now

	instance := j.rec.Template.Clone()
	instance.ID = fmt.Sprintf("%s-%s", j.rec.Template.ID, uuid.New().String()[:8])

	cmd := model.Command{
		Type: model.CommandAdd,
		Task: instance,
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		j.feeder.logger.Error("Failed to marshal add command",
			zap.String("id", j.rec.ID),
			zap.Error(err))
		return
	}

	if _, err := j.feeder.js.Publish(planCommandSubject, data); err != nil {
		j.feeder.logger.Error("Failed to publish add command",
			zap.String("id", j.rec.ID),
			zap.Error(err))
		return
	}

	j.feeder.logger.Info("Injected recurring task",
		zap.String("id", j.rec.ID),
		zap.String("task_id", instance.ID),
		zap.Time("fired_at", now))
}
