package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/wavecast/api/internal/client"
	"github.com/wavecast/api/internal/ffmpeg"
	"github.com/wavecast/api/internal/model"
	"github.com/wavecast/api/internal/store"
)

const defaultErrorMaxLen = 2000

// Notifier is told about every recorded transition.
type Notifier interface {
	BroadcastStatus(job model.Job)
}

// Options configures a RenderWorker. Zero values fall back to defaults;
// Notifier and Storage are optional.
type Options struct {
	FFmpegPath  string
	OutputDir   string
	ErrorMaxLen int
	Notifier    Notifier
	Storage     client.StorageClient
	Logger      logrus.FieldLogger
}

// RenderWorker runs one job from queued to a terminal state
type RenderWorker struct {
	store    store.Store
	runner   ffmpeg.Runner
	cleanup  *Cleanup
	notifier Notifier
	storage  client.StorageClient
	log      logrus.FieldLogger

	ffmpegPath  string
	outputDir   string
	errorMaxLen int
	now         func() time.Time
}

// NewRenderWorker creates a new render worker
func NewRenderWorker(st store.Store, runner ffmpeg.Runner, opts Options) *RenderWorker {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "render_worker")

	w := &RenderWorker{
		store:       st,
		runner:      runner,
		cleanup:     NewCleanup(log),
		notifier:    opts.Notifier,
		storage:     opts.Storage,
		log:         log,
		ffmpegPath:  opts.FFmpegPath,
		outputDir:   opts.OutputDir,
		errorMaxLen: opts.ErrorMaxLen,
		now:         time.Now,
	}
	if w.errorMaxLen <= 0 {
		w.errorMaxLen = defaultErrorMaxLen
	}
	return w
}

// Process renders jobID. Render failures are recorded on the job and are
// not returned; the error is reserved for store failures (unknown job,
// rejected transition, closed store).
func (w *RenderWorker) Process(ctx context.Context, jobID string) error {
	log := w.log.WithField("job_id", jobID)

	job, err := w.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	started := w.now().UTC()
	job, err = w.store.Transition(ctx, jobID, model.Running{StartedAt: started})
	if err != nil {
		w.logTransitionError(log, err)
		return err
	}
	w.notify(job)
	log.WithField("style", job.Params.Style).Info("render started")

	final := w.renderSafely(ctx, log, job, started)

	// Inputs must be gone before anyone can observe a terminal state.
	w.cleanup.Inputs(job)

	job, err = w.store.Transition(ctx, jobID, final)
	if err != nil {
		w.logTransitionError(log, err)
		return err
	}
	w.notify(job)

	if f, ok := final.(model.Failed); ok {
		log.WithField("error", f.Message).Warn("render failed")
	} else {
		log.WithField("elapsed", w.now().UTC().Sub(started).Round(time.Millisecond)).Info("render done")
	}
	return nil
}

// renderSafely runs render and turns a panic into a failed state, so the
// job still reaches a terminal state and its inputs are still removed.
func (w *RenderWorker) renderSafely(ctx context.Context, log logrus.FieldLogger, job model.Job, started time.Time) (final model.JobState) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("render panicked")
			removeOutput(filepath.Join(w.outputDir, job.ID+".mp4"))
			final = w.failed(started, fmt.Sprintf("render panicked: %v", r))
		}
	}()
	return w.render(ctx, log, job, started)
}

func (w *RenderWorker) render(ctx context.Context, log logrus.FieldLogger, job model.Job, started time.Time) model.JobState {
	outputPath := filepath.Join(w.outputDir, job.ID+".mp4")

	cmd, err := ffmpeg.Build(ffmpeg.Request{
		Binary:     w.ffmpegPath,
		Params:     job.Params,
		InputPath:  job.InputPath,
		CoverPath:  job.CoverPath,
		OutputPath: outputPath,
	})
	if err != nil {
		return w.failed(started, err.Error())
	}

	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return w.failed(started, fmt.Sprintf("create output directory: %v", err))
	}

	log.WithField("command", cmd.String()).Debug("spawning ffmpeg")
	res, err := w.runner.Run(ctx, cmd)
	if err != nil {
		removeOutput(outputPath)
		return w.failed(started, fmt.Sprintf("failed to start ffmpeg: %v", err))
	}
	if res.ExitCode != 0 {
		removeOutput(outputPath)
		msg := ffmpeg.Diagnostic(res.Stderr, w.errorMaxLen)
		if msg == "" {
			msg = fmt.Sprintf("ffmpeg exited with status %d", res.ExitCode)
		}
		return w.failed(started, msg)
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		removeOutput(outputPath)
		return w.failed(started, "ffmpeg produced no output")
	}

	return model.Done{
		StartedAt:  started,
		FinishedAt: w.now().UTC(),
		OutputPath: outputPath,
		PublicURL:  w.publish(ctx, log, job.ID, outputPath),
	}
}

// publish copies the artifact to object storage. Failures only cost the
// public URL; the local file is still served.
func (w *RenderWorker) publish(ctx context.Context, log logrus.FieldLogger, jobID, path string) string {
	if w.storage == nil {
		return ""
	}

	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).Warn("failed to open artifact for publishing")
		return ""
	}
	defer f.Close()

	url, err := w.storage.Upload(ctx, fmt.Sprintf("renders/%s.mp4", jobID), f, "video/mp4")
	if err != nil {
		log.WithError(err).Warn("failed to publish artifact")
		return ""
	}
	return url
}

func (w *RenderWorker) failed(started time.Time, msg string) model.Failed {
	return model.Failed{
		StartedAt:  started,
		FinishedAt: w.now().UTC(),
		Message:    msg,
	}
}

func (w *RenderWorker) notify(job model.Job) {
	if w.notifier != nil {
		w.notifier.BroadcastStatus(job)
	}
}

func (w *RenderWorker) logTransitionError(log logrus.FieldLogger, err error) {
	if errors.Is(err, store.ErrInvalidTransition) {
		log.WithError(err).Error("rejected job transition")
		return
	}
	log.WithError(err).Error("failed to record job transition")
}

func removeOutput(path string) {
	_ = os.Remove(path)
}

// ProcessTask handles render tasks delivered by asynq
func (w *RenderWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload renderTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task without job id: %w", asynq.SkipRetry)
	}

	if err := w.Process(ctx, payload.JobID); err != nil {
		// Jobs live in one process's memory; another instance's task cannot be served here.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}
