package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/wavecast/api/internal/logging"
)

const (
	TaskTypeRender = "render:process"
	QueueRender    = "render"
)

type renderTaskPayload struct {
	JobID string `json:"jobId"`
}

// NewRenderTask wraps jobID in an asynq task.
func NewRenderTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(renderTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRender, data), nil
}

// AsynqDispatcher enqueues jobs on redis for an asynq server to pick up.
type AsynqDispatcher struct {
	client *asynq.Client

	mu     sync.RWMutex
	closed bool
}

func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

// Dispatch enqueues a single-attempt render task.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	task, err := NewRenderTask(jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueRender),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Shutdown stops intake and closes the client connection.
func (d *AsynqDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.client.Close()
}

// ServerLogLevel maps the service log level onto asynq's.
func ServerLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn", "warning":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// NewServer builds the asynq server that consumes render tasks.
func NewServer(redisOpt asynq.RedisConnOpt, concurrency int, logLevel string, log logrus.FieldLogger) *asynq.Server {
	entry := log.WithField("component", "asynq")
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueRender: 1,
		},
		Logger:   logging.AsynqLogger{Entry: entry},
		LogLevel: ServerLogLevel(logLevel),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			entry.WithField("task", task.Type()).WithError(err).Error("task failed")
		}),
	})
}

// NewServeMux routes render tasks to w.
func NewServeMux(w *RenderWorker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeRender, w.ProcessTask)
	return mux
}
