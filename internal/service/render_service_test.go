package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/wavecast/api/internal/logging"
	"github.com/wavecast/api/internal/model"
	"github.com/wavecast/api/internal/store"
)

type fakeDispatcher struct {
	ids []string
	err error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, jobID string) error {
	d.ids = append(d.ids, jobID)
	return d.err
}

func (d *fakeDispatcher) Shutdown(ctx context.Context) error { return nil }

func file(name string, data []byte) FileInput {
	return FileInput{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func newTestService(t *testing.T, d *fakeDispatcher) (*RenderService, *store.MemoryStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	st := store.NewMemoryStore()
	svc, err := NewRenderService(st, d, validator.New(), Options{
		UploadDir:      dir,
		MaxUploadBytes: 1 << 20,
		Logger:         logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewRenderService: %v", err)
	}
	return svc, st, dir
}

func uploadedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSubmit_QueuesJob(t *testing.T) {
	d := &fakeDispatcher{}
	svc, st, dir := newTestService(t, d)

	cover := file("art.PNG", []byte("png"))
	resp, err := svc.Submit(context.Background(), SubmitRequest{
		Audio: file("song.mp3", []byte("ID3 audio")),
		Cover: &cover,
		Fields: map[string]string{
			"style":      "wave",
			"mode":       "line",
			"resolution": "1280x720",
			"fps":        "30",
			"start":      "2.5",
			"normalize":  "on",
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status != model.JobStatusQueued || resp.JobID == "" {
		t.Errorf("resp = %+v", resp)
	}
	if len(d.ids) != 1 || d.ids[0] != resp.JobID {
		t.Errorf("dispatched = %v", d.ids)
	}

	job, err := st.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Params.FPS != 30 || !job.Params.Normalize || !job.Params.HasCover || *job.Params.Start != 2.5 {
		t.Errorf("params = %+v", job.Params)
	}
	if filepath.Ext(job.CoverPath) != ".png" || filepath.Dir(job.InputPath) != dir {
		t.Errorf("paths = %s, %s", job.InputPath, job.CoverPath)
	}
	data, err := os.ReadFile(job.InputPath)
	if err != nil || string(data) != "ID3 audio" {
		t.Errorf("stored audio = %q, %v", data, err)
	}
}

func TestSubmit_AppliesDefaults(t *testing.T) {
	svc, st, _ := newTestService(t, &fakeDispatcher{})

	resp, err := svc.Submit(context.Background(), SubmitRequest{Audio: file("a.wav", []byte("RIFF"))})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job, _ := st.Get(context.Background(), resp.JobID)
	p := job.Params
	if p.Style != model.StyleWave || p.Width != 1280 || p.Height != 720 || p.FPS != 25 ||
		p.Mode != model.WaveModeLine || p.Color != "white" || p.Background != "black" || p.Normalize {
		t.Errorf("defaults = %+v", p)
	}
}

func TestSubmit_ValidationCreatesNoJob(t *testing.T) {
	tests := []struct {
		name     string
		req      SubmitRequest
		field    string
		tooLarge bool
	}{
		{
			name:  "missing audio",
			req:   SubmitRequest{},
			field: "audio",
		},
		{
			name:  "unsupported audio type",
			req:   SubmitRequest{Audio: file("notes.txt", []byte("hello"))},
			field: "audio",
		},
		{
			name:  "unsupported cover type",
			req:   SubmitRequest{Audio: file("a.mp3", []byte("x")), Cover: &FileInput{Name: "c.gif", Size: 1, Open: file("c.gif", []byte("x")).Open}},
			field: "cover",
		},
		{
			name:     "declared too large",
			req:      SubmitRequest{Audio: FileInput{Name: "a.mp3", Size: 2 << 20, Open: file("a.mp3", nil).Open}},
			field:    "audio",
			tooLarge: true,
		},
		{
			name:     "actually too large",
			req:      SubmitRequest{Audio: FileInput{Name: "a.mp3", Size: 10, Open: file("a.mp3", make([]byte, 2<<20)).Open}},
			field:    "audio",
			tooLarge: true,
		},
		{
			name:  "siri with three colors",
			req:   SubmitRequest{Audio: file("a.mp3", []byte("x")), Fields: map[string]string{"style": "siri", "colors": "red,green,blue"}},
			field: "colors",
		},
		{
			name:  "unknown color",
			req:   SubmitRequest{Audio: file("a.mp3", []byte("x")), Fields: map[string]string{"color": "white:evil=1"}},
			field: "color",
		},
		{
			name:  "odd resolution",
			req:   SubmitRequest{Audio: file("a.mp3", []byte("x")), Fields: map[string]string{"resolution": "641x360"}},
			field: "resolution",
		},
		{
			name:  "fps not a number",
			req:   SubmitRequest{Audio: file("a.mp3", []byte("x")), Fields: map[string]string{"fps": "fast"}},
			field: "fps",
		},
		{
			name:  "empty file",
			req:   SubmitRequest{Audio: file("a.mp3", nil)},
			field: "audio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			svc, st, dir := newTestService(t, d)

			_, err := svc.Submit(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
			if verr.TooLarge != tt.tooLarge {
				t.Errorf("TooLarge = %v", verr.TooLarge)
			}
			if st.Len() != 0 || len(d.ids) != 0 {
				t.Errorf("job created on validation failure")
			}
			if files := uploadedFiles(t, dir); len(files) != 0 {
				t.Errorf("files left behind: %v", files)
			}
		})
	}
}

func TestSubmit_StructValidationDetails(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDispatcher{})

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Audio:  file("a.mp3", []byte("x")),
		Fields: map[string]string{"style": "bars", "fps": "27"},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v", err)
	}
	if verr.Details["style"] != "oneof" || verr.Details["fps"] != "oneof" {
		t.Errorf("details = %v", verr.Details)
	}
}

func TestSubmit_DispatchFailure(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("redis unavailable")}
	svc, st, dir := newTestService(t, d)

	_, err := svc.Submit(context.Background(), SubmitRequest{Audio: file("a.mp3", []byte("x"))})
	if err == nil {
		t.Fatal("expected error")
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		t.Fatalf("dispatch failure reported as validation error: %v", err)
	}
	if st.Len() != 1 {
		t.Fatalf("Len = %d", st.Len())
	}
	if files := uploadedFiles(t, dir); len(files) != 0 {
		t.Errorf("inputs left behind: %v", files)
	}

	status, err := svc.Status(context.Background(), d.ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != model.JobStatusError || !strings.Contains(status.Error, "redis unavailable") {
		t.Errorf("status = %s %q", status.Status, status.Error)
	}
	if status.StartedAt != nil || status.FinishedAt == nil {
		t.Errorf("never-started job: started_at = %v finished_at = %v", status.StartedAt, status.FinishedAt)
	}
}

func TestStatusAndArtifact(t *testing.T) {
	svc, st, _ := newTestService(t, &fakeDispatcher{})
	ctx := context.Background()

	if _, err := svc.Status(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status(missing) = %v", err)
	}
	if _, err := svc.Artifact(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Artifact(missing) = %v", err)
	}

	resp, err := svc.Submit(ctx, SubmitRequest{Audio: file("a.mp3", []byte("x"))})
	if err != nil {
		t.Fatal(err)
	}
	id := resp.JobID

	if _, err := svc.Artifact(ctx, id); !errors.Is(err, ErrNotReady) {
		t.Errorf("queued artifact err = %v", err)
	}
	st.Transition(ctx, id, model.Running{})
	if _, err := svc.Artifact(ctx, id); !errors.Is(err, ErrNotReady) {
		t.Errorf("running artifact err = %v", err)
	}

	out := filepath.Join(t.TempDir(), id+".mp4")
	st.Transition(ctx, id, model.Done{OutputPath: out})
	if _, err := svc.Artifact(ctx, id); !errors.Is(err, ErrArtifactMissing) {
		t.Errorf("missing file err = %v", err)
	}
	os.WriteFile(out, []byte("mp4"), 0o644)
	job, err := svc.Artifact(ctx, id)
	if err != nil || job.OutputPath() != out {
		t.Errorf("Artifact = %v, %v", job.OutputPath(), err)
	}

	status, err := svc.Status(ctx, id)
	if err != nil || status.Status != model.JobStatusDone {
		t.Errorf("Status = %+v, %v", status, err)
	}
}

func TestArtifact_FailedJob(t *testing.T) {
	svc, st, _ := newTestService(t, &fakeDispatcher{})
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, SubmitRequest{Audio: file("a.mp3", []byte("x"))})
	st.Transition(ctx, resp.JobID, model.Running{})
	st.Transition(ctx, resp.JobID, model.Failed{Message: "Invalid data found when processing input"})

	job, err := svc.Artifact(ctx, resp.JobID)
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("err = %v", err)
	}
	if job.ErrorMessage() != "Invalid data found when processing input" {
		t.Errorf("message = %q", job.ErrorMessage())
	}
}
