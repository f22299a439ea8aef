package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
)

func TestNewRenderTask(t *testing.T) {
	task, err := NewRenderTask("job-1")
	if err != nil {
		t.Fatalf("NewRenderTask: %v", err)
	}
	if task.Type() != TaskTypeRender {
		t.Errorf("type = %q", task.Type())
	}
	var p renderTaskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.JobID != "job-1" {
		t.Errorf("job id = %q", p.JobID)
	}
}

func TestServerLogLevel(t *testing.T) {
	tests := map[string]asynq.LogLevel{
		"debug":   asynq.DebugLevel,
		"DEBUG":   asynq.DebugLevel,
		"warn":    asynq.WarnLevel,
		"warning": asynq.WarnLevel,
		"error":   asynq.ErrorLevel,
		"info":    asynq.InfoLevel,
		"":        asynq.InfoLevel,
	}
	for in, want := range tests {
		if got := ServerLogLevel(in); got != want {
			t.Errorf("ServerLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAsynqDispatcher_ClosedRejects(t *testing.T) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:1"})
	d := NewAsynqDispatcher(client)

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if err := d.Dispatch(context.Background(), "job-1"); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Dispatch after shutdown = %v", err)
	}
}
