package provisioning

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/hibiken/asynq"
)

// TaskDeliver is the asynq task type consumed by the worker.
const TaskDeliver = "provisioning:deliver"

// DeliverPayload is the queued form of an accepted request.
type DeliverPayload struct {
	RequestID string  `json:"requestId"`
	Request   Request `json:"request"`
}

// Enqueuer schedules delivery of an accepted request.
type Enqueuer interface {
	EnqueueDelivery(ctx context.Context, payload DeliverPayload) error
}

// NewDeliverTask encodes payload as a delivery task. The request id doubles as
// the task id so a request is never queued twice.
func NewDeliverTask(payload DeliverPayload, maxRetry int) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode delivery payload: %w", err)
	}
	opts := []asynq.Option{asynq.TaskID(payload.RequestID)}
	if maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(maxRetry))
	}
	return asynq.NewTask(TaskDeliver, body, opts...), nil
}

// AsynqEnqueuer publishes delivery tasks to Redis through asynq.
type AsynqEnqueuer struct {
	Client   *asynq.Client
	Queue    string
	MaxRetry int
}

func (e AsynqEnqueuer) EnqueueDelivery(ctx context.Context, payload DeliverPayload) error {
	if e.Client == nil {
		return errors.New("provisioning: task client not configured")
	}
	task, err := NewDeliverTask(payload, e.MaxRetry)
	if err != nil {
		return err
	}
	var opts []asynq.Option
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if _, err := e.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", TaskDeliver, err)
	}
	return nil
}
