package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wavecast/api/internal/ffmpeg"
	"github.com/wavecast/api/internal/model"
	"github.com/wavecast/api/internal/store"
	"github.com/wavecast/api/internal/worker"
)

var (
	ErrNotFound        = store.ErrNotFound
	ErrNotReady        = errors.New("job not ready")
	ErrJobFailed       = errors.New("job failed")
	ErrArtifactMissing = errors.New("output file missing")
)

// Accepted upload extensions
var (
	AudioExtensions = []string{".mp3", ".wav", ".m4a", ".ogg"}
	CoverExtensions = []string{".png", ".jpg", ".jpeg"}
)

// ValidationError is a request the service refused before creating a job.
type ValidationError struct {
	Field    string
	Message  string
	Details  map[string]string
	TooLarge bool
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// FileInput is an uploaded file the service can stream from.
type FileInput struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// SubmitRequest is one render submission: the audio, an optional cover and
// the raw form fields.
type SubmitRequest struct {
	Audio  FileInput
	Cover  *FileInput
	Fields map[string]string
}

type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	FFmpegPath     string
	Logger         logrus.FieldLogger
}

// RenderService handles render job intake and lookup
type RenderService struct {
	store      store.Store
	dispatcher worker.Dispatcher
	validator  *validator.Validate
	cleanup    *worker.Cleanup
	opts       Options
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewRenderService(st store.Store, dispatcher worker.Dispatcher, v *validator.Validate, opts Options) (*RenderService, error) {
	if err := model.RegisterValidations(v); err != nil {
		return nil, fmt.Errorf("register validations: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "render_service")

	return &RenderService{
		store:      st,
		dispatcher: dispatcher,
		validator:  v,
		cleanup:    worker.NewCleanup(log),
		opts:       opts,
		log:        log,
		now:        time.Now,
	}, nil
}

// Submit validates a render request, stores its files and queues a job.
// It returns as soon as the job is dispatched.
func (s *RenderService) Submit(ctx context.Context, req SubmitRequest) (*model.SubmitResponse, error) {
	if err := s.checkFile("audio", &req.Audio, AudioExtensions); err != nil {
		return nil, err
	}
	if req.Cover != nil {
		if err := s.checkFile("cover", req.Cover, CoverExtensions); err != nil {
			return nil, err
		}
	}

	params, err := s.parseParams(req.Fields, req.Cover != nil)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	inputPath, err := s.save("audio", &req.Audio)
	if err != nil {
		return nil, err
	}
	var coverPath string
	if req.Cover != nil {
		if coverPath, err = s.save("cover", req.Cover); err != nil {
			s.cleanup.Files("", inputPath)
			return nil, err
		}
	}

	job, err := s.store.Create(ctx, store.NewJob{
		InputPath: inputPath,
		CoverPath: coverPath,
		Params:    params,
	})
	if err != nil {
		s.cleanup.Files("", inputPath, coverPath)
		return nil, fmt.Errorf("create job: %w", err)
	}

	log := s.log.WithField("job_id", job.ID)
	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		s.cleanup.Inputs(job)
		if _, terr := s.store.Transition(ctx, job.ID, model.Failed{
			FinishedAt: s.now().UTC(),
			Message:    fmt.Sprintf("failed to dispatch render: %v", err),
		}); terr != nil {
			log.WithError(terr).Error("failed to record dispatch failure")
		}
		return nil, fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}

	log.WithFields(logrus.Fields{
		"style":      params.Style,
		"resolution": params.Resolution(),
		"fps":        params.FPS,
		"cover":      params.HasCover,
	}).Info("render job queued")

	return &model.SubmitResponse{
		JobID:  job.ID,
		Status: model.JobStatusQueued,
	}, nil
}

// Status returns the caller-facing view of a job.
func (s *RenderService) Status(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return model.NewJobStatusResponse(job), nil
}

// Artifact returns a done job whose output file is present. A job that is
// not done yields ErrNotReady or ErrJobFailed together with the job.
func (s *RenderService) Artifact(ctx context.Context, jobID string) (model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}

	switch job.Status() {
	case model.JobStatusDone:
		if _, err := os.Stat(job.OutputPath()); err != nil {
			return job, ErrArtifactMissing
		}
		return job, nil
	case model.JobStatusError:
		return job, ErrJobFailed
	default:
		return job, ErrNotReady
	}
}

func (s *RenderService) checkFile(field string, f *FileInput, exts []string) error {
	if f.Open == nil || f.Name == "" {
		return &ValidationError{Field: field, Message: "file is required"}
	}

	ext := strings.ToLower(filepath.Ext(f.Name))
	if !contains(exts, ext) {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("unsupported file type %q", ext),
			Details: map[string]string{"allowed": strings.Join(exts, ",")},
		}
	}
	if f.Size > s.opts.MaxUploadBytes {
		return s.tooLarge(field)
	}
	return nil
}

func (s *RenderService) tooLarge(field string) *ValidationError {
	return &ValidationError{
		Field:    field,
		Message:  fmt.Sprintf("file exceeds %d MB limit", s.opts.MaxUploadBytes>>20),
		Details:  map[string]string{"max_bytes": fmt.Sprint(s.opts.MaxUploadBytes)},
		TooLarge: true,
	}
}

func (s *RenderService) parseParams(fields map[string]string, hasCover bool) (model.RenderParams, error) {
	form, err := model.ParseRenderForm(func(key string) string { return fields[key] })
	if err != nil {
		return model.RenderParams{}, fieldError(err)
	}

	if err := s.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, e := range verrs {
				details[fieldName(e.Field())] = e.Tag()
			}
			return model.RenderParams{}, &ValidationError{Message: "invalid render options", Details: details}
		}
		return model.RenderParams{}, &ValidationError{Message: err.Error()}
	}

	params, err := form.Params(hasCover)
	if err != nil {
		return model.RenderParams{}, fieldError(err)
	}

	// Dry run: every token must survive compilation before anything is written.
	req := ffmpeg.Request{
		Binary:     s.opts.FFmpegPath,
		Params:     params,
		InputPath:  "input",
		OutputPath: "output.mp4",
	}
	if hasCover {
		req.CoverPath = "cover"
	}
	if _, err := ffmpeg.Build(req); err != nil {
		var cfgErr *ffmpeg.ConfigError
		if errors.As(err, &cfgErr) {
			return model.RenderParams{}, &ValidationError{Field: cfgErr.Field, Message: cfgErr.Reason,
				Details: map[string]string{cfgErr.Field: cfgErr.Value}}
		}
		return model.RenderParams{}, &ValidationError{Message: err.Error()}
	}

	return params, nil
}

// save streams f into the upload directory under a fresh name. A file that
// turns out larger than the limit is removed and rejected.
func (s *RenderService) save(field string, f *FileInput) (string, error) {
	src, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s upload: %w", field, err)
	}
	defer src.Close()

	path := filepath.Join(s.opts.UploadDir, uuid.New().String()+strings.ToLower(filepath.Ext(f.Name)))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s file: %w", field, err)
	}

	n, err := io.Copy(dst, io.LimitReader(src, s.opts.MaxUploadBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write %s file: %w", field, err)
	}
	if n > s.opts.MaxUploadBytes {
		os.Remove(path)
		return "", s.tooLarge(field)
	}
	if n == 0 {
		os.Remove(path)
		return "", &ValidationError{Field: field, Message: "file is empty"}
	}
	return path, nil
}

func fieldError(err error) error {
	var fe *model.FieldError
	if errors.As(err, &fe) {
		return &ValidationError{Field: fe.Field, Message: fe.Message}
	}
	return &ValidationError{Message: err.Error()}
}

// fieldName maps RenderForm struct fields to their form keys.
func fieldName(field string) string {
	switch field {
	case "FPS":
		return "fps"
	case "SecondaryColor":
		return "secondary_color"
	}
	return strings.ToLower(field)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
