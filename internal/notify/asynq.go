package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeEvent is the queue task type carrying one notification event.
const TaskTypeEvent = "notify:event"

// NewEventTask wraps an event into an Asynq task.
func NewEventTask(event Event) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeEvent, data), nil
}

// AsynqDispatcher pushes events onto the job queue so delivery happens off
// the request path.
type AsynqDispatcher struct {
	client *asynq.Client
	queue  string
	logger *slog.Logger
}

func NewAsynqDispatcher(client *asynq.Client, queue string, logger *slog.Logger) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, queue: queue, logger: logger}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, event Event) error {
	if d == nil || d.client == nil {
		return nil
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	task, err := NewEventTask(event)
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task, asynq.Queue(d.queue)); err != nil {
		if d.logger != nil {
			d.logger.Warn("enqueue notification", slog.String("event", event.Name), slog.Any("error", err))
		}
		return err
	}
	return nil
}

// HandleEventTask logs delivered events. Channel integrations (mail, chat)
// hang off this handler.
func HandleEventTask(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event Event
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			return asynq.SkipRetry
		}
		if logger != nil {
			logger.Info("notification", slog.String("event", event.Name), slog.Time("at", event.At), slog.Any("meta", event.Meta))
		}
		return nil
	}
}
