package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/taskplan/internal/model"
	"github.com/t77yq/taskplan/internal/monitor"
	"github.com/t77yq/taskplan/internal/scheduler"
	"github.com/t77yq/taskplan/internal/service"
	"github.com/t77yq/taskplan/internal/storage"
)

// taskConfig mirrors a task definition in the config file.
type taskConfig struct {
	ID           string   `mapstructure:"id"`
	Duration     int      `mapstructure:"duration"`
	Dependencies []string `mapstructure:"dependencies"`
	Workers      int      `mapstructure:"workers"`
	Priority     int      `mapstructure:"priority"`
	Deadline     *int     `mapstructure:"deadline"`
}

// recurringConfig mirrors a recurring task definition in the config file.
type recurringConfig struct {
	Name       string     `mapstructure:"name"`
	Expression string     `mapstructure:"expression"`
	Template   taskConfig `mapstructure:"template"`
}

func (c taskConfig) toTask() *model.Task {
	return &model.Task{
		ID:           c.ID,
		Duration:     c.Duration,
		Dependencies: c.Dependencies,
		Workers:      c.Workers,
		Priority:     c.Priority,
		Deadline:     c.Deadline,
	}
}

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("scheduler.capacity", 4)
	viper.SetDefault("scheduler.step_interval", time.Second)
	viper.SetDefault("monitor.interval", 10*time.Second)
	viper.SetDefault("storage.path", "plan_log.db")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Connect to NATS
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Load initial task set
	var taskConfigs []taskConfig
	if err := viper.UnmarshalKey("scheduler.tasks", &taskConfigs); err != nil {
		logger.Fatal("Failed to parse task definitions", zap.Error(err))
	}
	initial := make(map[string]*model.Task, len(taskConfigs))
	for _, tc := range taskConfigs {
		initial[tc.ID] = tc.toTask()
	}

	capacity := viper.GetInt("scheduler.capacity")
	engine := scheduler.NewEngine(initial, capacity, logger)

	logger.Info("Plan loaded",
		zap.Int("tasks", len(initial)),
		zap.Int("capacity", capacity))

	// Create plan log storage
	planLog, err := storage.NewSQLitePlanLog(logger, viper.GetString("storage.path"))
	if err != nil {
		logger.Fatal("Failed to create plan log storage", zap.Error(err))
	}
	defer planLog.Close()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Start command service
	commands := service.NewCommandService(js, engine, logger)
	if err := commands.Start(ctx); err != nil {
		logger.Fatal("Failed to start command service", zap.Error(err))
	}
	defer commands.Stop()

	// Start plan monitor
	planMonitor := monitor.NewPlanMonitor(js, viper.GetDuration("monitor.interval"), logger)
	if err := planMonitor.Start(ctx); err != nil {
		logger.Fatal("Failed to start plan monitor", zap.Error(err))
	}
	defer planMonitor.Stop()

	// Start recurring feeder
	feeder := service.NewRecurringFeeder(js, logger)
	if err := feeder.Start(ctx); err != nil {
		logger.Fatal("Failed to start recurring feeder", zap.Error(err))
	}
	defer feeder.Stop()

	var recurringConfigs []recurringConfig
	if err := viper.UnmarshalKey("recurring", &recurringConfigs); err != nil {
		logger.Fatal("Failed to parse recurring definitions", zap.Error(err))
	}
	for _, rc := range recurringConfigs {
		rec := &service.RecurringTask{
			Name:       rc.Name,
			Expression: rc.Expression,
			Template:   *rc.Template.toTask(),
		}
		if err := feeder.AddRecurring(rec); err != nil {
			logger.Error("Failed to add recurring task",
				zap.String("name", rc.Name),
				zap.Error(err))
		}
	}

	// Drive the plan: apply queued mutations, advance one step, persist and
	// publish, until the run is terminal or shutdown is requested.
	interval := viper.GetDuration("scheduler.step_interval")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if applied := commands.Apply(); applied > 0 {
				logger.Info("Applied mutation commands", zap.Int("count", applied))
			}

			result := engine.Step()

			record := model.StepRecord{
				Time:      result.Time,
				Started:   result.Started,
				Completed: result.Completed,
			}
			if err := planLog.AppendStep(ctx, record); err != nil {
				logger.Error("Failed to persist step record", zap.Error(err))
			}
			for _, c := range completionsFor(engine, result.Completed) {
				if err := planLog.RecordCompletion(ctx, c); err != nil {
					logger.Error("Failed to persist completion",
						zap.String("task_id", c.TaskID),
						zap.Error(err))
				}
			}

			if err := commands.PublishStep(ctx, result); err != nil {
				logger.Error("Failed to publish step event", zap.Error(err))
			}

			if result.Terminal {
				logger.Info("Plan complete", zap.Int("final_time", result.Time))
				break loop
			}
		}
	}

	// Final report
	for _, c := range engine.Completions() {
		fields := []zap.Field{
			zap.String("task_id", c.TaskID),
			zap.Int("finished_at", c.FinishedAt),
			zap.String("deadline_status", string(c.Status)),
		}
		if c.Deadline != nil {
			fields = append(fields, zap.Int("deadline", *c.Deadline))
		}
		logger.Info("Task completion", fields...)
	}
	for _, blocked := range engine.BlockedTasks() {
		logger.Warn("Task never became ready",
			zap.String("task_id", blocked.TaskID),
			zap.Strings("waiting_on", blocked.Waiting),
			zap.Strings("missing", blocked.Missing))
	}

	logger.Info("Planner shutting down gracefully")
}

// completionsFor filters the engine's completion records down to the given
// step's completed ids.
func completionsFor(engine *scheduler.Engine, ids []string) []model.Completion {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var out []model.Completion
	for _, c := range engine.Completions() {
		if want[c.TaskID] {
			out = append(out, c)
		}
	}
	return out
}
