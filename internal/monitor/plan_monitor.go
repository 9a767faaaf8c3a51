package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/taskplan/internal/model"
)

const (
	monitorStreamName  = "MONITOR"
	planMetricsSubject = "metrics.plan"
	deadlineAlertType  = "deadline_missed"
)

// PlanMonitor observes published step events, tracks plan utilization,
// raises alerts for missed deadlines, and periodically publishes combined
// plan and host metrics. It is strictly observational and never feeds back
// into scheduling.
type PlanMonitor struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration

	mu        sync.RWMutex
	lastEvent *model.StepEvent
	stepsSeen int
	missed    []model.Completion
	stop      chan struct{}
	sub       *nats.Subscription
}

// NewPlanMonitor creates a plan monitor publishing metrics at the given
// interval.
func NewPlanMonitor(js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *PlanMonitor {
	return &PlanMonitor{
		logger:   logger.Named("plan-monitor"),
		js:       js,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start ensures the monitor stream exists, subscribes to step events and
// starts the metrics loop.
func (m *PlanMonitor) Start(ctx context.Context) error {
	stream, err := m.js.StreamInfo(monitorStreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if stream == nil {
		_, err = m.js.AddStream(&nats.StreamConfig{
			Name:     monitorStreamName,
			Subjects: []string{"metrics.*", "alert.*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("failed to create monitor stream: %w", err)
		}
	}

	sub, err := m.js.Subscribe("plan.step", m.handleStepEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe to step events: %w", err)
	}
	m.sub = sub

	go m.metricsLoop(ctx)

	m.logger.Info("Plan monitor started")
	return nil
}

// Stop stops the monitor.
func (m *PlanMonitor) Stop() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
	close(m.stop)
}

// handleStepEvent ingests one step event and raises deadline alerts.
func (m *PlanMonitor) handleStepEvent(msg *nats.Msg) {
	var event model.StepEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal step event", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.lastEvent = &event
	m.stepsSeen++
	for _, c := range event.Completed {
		if c.Status == model.DeadlineMissed {
			m.missed = append(m.missed, c)
		}
	}
	m.mu.Unlock()

	for _, c := range event.Completed {
		if c.Status == model.DeadlineMissed {
			m.raiseDeadlineAlert(c)
		}
	}
}

// raiseDeadlineAlert publishes an alert for a completion that missed its
// deadline.
func (m *PlanMonitor) raiseDeadlineAlert(c model.Completion) {
	alert := &model.Alert{
		ID:       uuid.New().String(),
		Type:     deadlineAlertType,
		Severity: model.AlertSeverityWarning,
		Message:  fmt.Sprintf("Task %s missed its deadline", c.TaskID),
		Data: map[string]interface{}{
			"task_id":     c.TaskID,
			"finished_at": c.FinishedAt,
			"deadline":    c.Deadline,
		},
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("Failed to marshal alert", zap.Error(err))
		return
	}

	if _, err := m.js.Publish("alert."+deadlineAlertType, data); err != nil {
		m.logger.Error("Failed to publish alert", zap.Error(err))
		return
	}

	m.logger.Info("Deadline alert raised",
		zap.String("id", alert.ID),
		zap.String("task_id", c.TaskID),
		zap.Int("finished_at", c.FinishedAt))
}

// metricsLoop periodically publishes plan and host metrics.
func (m *PlanMonitor) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.publishMetrics()
		}
	}
}

// PlanMetrics is the published combined plan and host metrics snapshot.
type PlanMetrics struct {
	Timestamp       time.Time        `json:"timestamp"`
	CPUUsage        float64          `json:"cpu_usage"`
	MemoryUsage     float64          `json:"memory_usage"`
	StepsSeen       int              `json:"steps_seen"`
	MissedDeadlines int              `json:"missed_deadlines"`
	LastStep        *model.StepEvent `json:"last_step,omitempty"`
}

// publishMetrics collects host usage and publishes a metrics snapshot.
func (m *PlanMonitor) publishMetrics() {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		m.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		m.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	m.mu.RLock()
	metrics := PlanMetrics{
		Timestamp:       time.Now(),
		CPUUsage:        cpuPercent[0],
		MemoryUsage:     memInfo.UsedPercent,
		StepsSeen:       m.stepsSeen,
		MissedDeadlines: len(m.missed),
		LastStep:        m.lastEvent,
	}
	m.mu.RUnlock()

	data, err := json.Marshal(metrics)
	if err != nil {
		m.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}

	if _, err := m.js.Publish(planMetricsSubject, data); err != nil {
		m.logger.Error("Failed to publish metrics", zap.Error(err))
		return
	}

	m.logger.Debug("Plan metrics published",
		zap.Int("steps_seen", metrics.StepsSeen),
		zap.Int("missed_deadlines", metrics.MissedDeadlines))
}

// LastEvent returns the most recently observed step event.
func (m *PlanMonitor) LastEvent() *model.StepEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastEvent
}

// MissedDeadlines returns the completions observed to have missed their
// deadlines so far.
func (m *PlanMonitor) MissedDeadlines() []model.Completion {
	m.mu.RLock()
	defer m.mu.RUnlock()

	missed := make([]model.Completion, len(m.missed))
	copy(missed, m.missed)
	return missed
}
