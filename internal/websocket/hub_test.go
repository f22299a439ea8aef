package websocket

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	fws "github.com/gofiber/contrib/websocket"

	"github.com/wavecast/api/internal/logging"
	"github.com/wavecast/api/internal/model"
)

func receive(t *testing.T, c *Client) model.WSStatusMessage {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatal("client channel closed")
		}
		var msg model.WSStatusMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return model.WSStatusMessage{}
}

func TestHub_BroadcastStatus(t *testing.T) {
	h := NewHub(logging.Discard())
	go h.Run()
	defer h.Stop()

	sub := &Client{JobID: "job-1", Send: make(chan []byte, 4)}
	other := &Client{JobID: "job-2", Send: make(chan []byte, 4)}
	h.Register(sub)
	h.Register(other)

	h.BroadcastStatus(model.Job{ID: "job-1", State: model.Running{StartedAt: time.Now()}})
	h.BroadcastStatus(model.Job{ID: "job-1", State: model.Failed{Message: "Invalid data found"}})

	first := receive(t, sub)
	if first.Type != model.WSMessageTypeStatus || first.JobID != "job-1" || first.Status != model.JobStatusRunning {
		t.Errorf("first = %+v", first)
	}
	second := receive(t, sub)
	if second.Status != model.JobStatusError || second.Error != "Invalid data found" {
		t.Errorf("second = %+v", second)
	}

	select {
	case <-other.Send:
		t.Error("subscriber of another job received a message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_StopClosesSubscribers(t *testing.T) {
	h := NewHub(logging.Discard())
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()

	sub := &Client{JobID: "job", Send: make(chan []byte, 1)}
	h.Register(sub)
	h.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if _, ok := <-sub.Send; ok {
		t.Error("subscriber channel still open")
	}

	// Neither call may block once stopped.
	h.BroadcastStatus(model.Job{ID: "job", State: model.Queued{}})
	if h.Register(&Client{JobID: "job", Send: make(chan []byte)}) {
		t.Error("Register succeeded on a stopped hub")
	}
}

func TestStatusMessage_IncludesPublicURL(t *testing.T) {
	msg := StatusMessage(model.Job{ID: "j", State: model.Done{OutputPath: "/out/j.mp4", PublicURL: "https://cdn/x.mp4"}})
	if msg.Status != model.JobStatusDone || msg.URL != "https://cdn/x.mp4" || msg.Error != "" {
		t.Errorf("msg = %+v", msg)
	}
}

type recordingWriter struct {
	err    error
	types  []int
	frames [][]byte
}

func (w *recordingWriter) WriteMessage(messageType int, data []byte) error {
	if w.err != nil {
		return w.err
	}
	w.types = append(w.types, messageType)
	w.frames = append(w.frames, data)
	return nil
}

func TestSendStatus_WritesTextFrame(t *testing.T) {
	w := &recordingWriter{}
	job := model.Job{ID: "job-1", State: model.Failed{Message: "bad input"}}

	if err := sendStatus(w, job); err != nil {
		t.Fatalf("sendStatus: %v", err)
	}
	if len(w.frames) != 1 || w.types[0] != fws.TextMessage {
		t.Fatalf("frames = %d types = %v", len(w.frames), w.types)
	}
	var msg model.WSStatusMessage
	if err := json.Unmarshal(w.frames[0], &msg); err != nil {
		t.Fatal(err)
	}
	if msg.JobID != "job-1" || msg.Status != model.JobStatusError || msg.Error != "bad input" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestSendStatus_ReturnsWriteError(t *testing.T) {
	broken := errors.New("broken pipe")
	w := &recordingWriter{err: broken}

	if err := sendStatus(w, model.Job{ID: "job-1", State: model.Queued{}}); !errors.Is(err, broken) {
		t.Errorf("err = %v, want write error", err)
	}
}
