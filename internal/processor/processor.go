package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"freightdesk/internal/kafka"
	"freightdesk/internal/metrics"
	"freightdesk/internal/models"
	"freightdesk/internal/repository"
)

// TaskProcessor drains the outbox: it polls pending tasks and publishes each
// tracking event to the Kafka topic, keyed by order id. The ledger row in
// Postgres stays authoritative; the stream is best-effort downstream
// notification with bounded retry.
type TaskProcessor struct {
	repo         repository.TaskRepository
	producer     kafka.Producer
	topic        string
	pollInterval time.Duration
	limit        int
	maxAttempts  int
	retryDelay   time.Duration
	log          *slog.Logger
}

func NewTaskProcessor(repo repository.TaskRepository, producer kafka.Producer, topic string, pollInterval time.Duration, limit int, log *slog.Logger) *TaskProcessor {
	return &TaskProcessor{
		repo:         repo,
		producer:     producer,
		topic:        topic,
		pollInterval: pollInterval,
		limit:        limit,
		maxAttempts:  3,
		retryDelay:   2 * time.Second,
		log:          log,
	}
}

func (p *TaskProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processPendingTasks(ctx)
		}
	}
}

func (p *TaskProcessor) processPendingTasks(ctx context.Context) {
	tasks, err := p.repo.GetPendingTasks(ctx, p.limit, p.maxAttempts)
	if err != nil {
		p.log.Error("fetching pending relay tasks", "error", err)
		return
	}
	for _, task := range tasks {
		if err := p.repo.MarkTaskProcessing(ctx, task.ID); err != nil {
			p.log.Error("marking relay task processing", "task_id", task.ID, "error", err)
			continue
		}

		if err := p.producer.Publish(p.topic, eventKey(task.EventData), task.EventData); err != nil {
			p.fail(ctx, task, err)
			continue
		}
		metrics.TrackingEventsRelayedTotal.Inc()
		if err := p.repo.DeleteTask(ctx, task.ID); err != nil {
			p.log.Error("deleting relay task after publish", "task_id", task.ID, "error", err)
		}
	}
}

func (p *TaskProcessor) fail(ctx context.Context, task *repository.Task, pubErr error) {
	newAttempt := task.AttemptCount + 1
	newStatus := repository.TaskStatusFailed
	if newAttempt >= p.maxAttempts {
		newStatus = repository.TaskStatusNoAttemptsLeft
	}
	nextAttempt := time.Now().Add(p.retryDelay)
	if err := p.repo.UpdateTaskFailure(ctx, task.ID, newAttempt, newStatus, nextAttempt); err != nil {
		p.log.Error("updating relay task failure", "task_id", task.ID, "error", err)
	}
	p.log.Warn("publishing relay task failed", "task_id", task.ID, "attempt", newAttempt, "error", pubErr)
}

func eventKey(eventData []byte) string {
	var ev models.TrackingEvent
	if err := json.Unmarshal(eventData, &ev); err != nil {
		return ""
	}
	return ev.OrderID
}
