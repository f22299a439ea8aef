package model

import "time"

// Job represents one submitted render request and its lifecycle record.
// Params is a snapshot taken at submission and is never mutated afterwards.
type Job struct {
	ID        string
	CreatedAt time.Time
	InputPath string
	CoverPath string
	Params    RenderParams
	State     JobState
}

// Status projects the job's state variant onto its status token.
func (j Job) Status() JobStatus {
	if j.State == nil {
		return JobStatusQueued
	}
	return j.State.Status()
}

// OutputPath returns the rendered artifact path; empty unless the job is done.
func (j Job) OutputPath() string {
	if d, ok := j.State.(Done); ok {
		return d.OutputPath
	}
	return ""
}

// ErrorMessage returns the failure diagnostic; empty unless the job failed.
func (j Job) ErrorMessage() string {
	if f, ok := j.State.(Failed); ok {
		return f.Message
	}
	return ""
}

// JobState is the closed set of job states. Each variant carries only the
// fields valid for it, so a done job cannot hold an error and a failed job
// cannot hold an output.
type JobState interface {
	Status() JobStatus
	jobState()
}

// Queued is the initial state of every job.
type Queued struct{}

// Running means a worker has picked the job up and is about to spawn, or is
// waiting on, the external render.
type Running struct {
	StartedAt time.Time
}

// Done is the successful terminal state.
type Done struct {
	StartedAt  time.Time
	FinishedAt time.Time
	OutputPath string
	PublicURL  string
}

// Failed is the unsuccessful terminal state. StartedAt is zero when the
// job failed before any worker picked it up (dispatch failure).
type Failed struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Message    string
}

func (Queued) Status() JobStatus  { return JobStatusQueued }
func (Running) Status() JobStatus { return JobStatusRunning }
func (Done) Status() JobStatus    { return JobStatusDone }
func (Failed) Status() JobStatus  { return JobStatusError }

func (Queued) jobState()  {}
func (Running) jobState() {}
func (Done) jobState()    {}
func (Failed) jobState()  {}

// JobStatusResponse is the status projection returned to callers.
type JobStatusResponse struct {
	JobID      string     `json:"job_id"`
	Status     JobStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	URL        string     `json:"url,omitempty"`
}

// NewJobStatusResponse builds the caller-facing view of a job.
func NewJobStatusResponse(job Job) *JobStatusResponse {
	resp := &JobStatusResponse{
		JobID:     job.ID,
		Status:    job.Status(),
		CreatedAt: job.CreatedAt,
	}

	switch s := job.State.(type) {
	case Running:
		resp.StartedAt = timePtr(s.StartedAt)
	case Done:
		resp.StartedAt = timePtr(s.StartedAt)
		resp.FinishedAt = timePtr(s.FinishedAt)
		resp.URL = s.PublicURL
	case Failed:
		resp.StartedAt = timePtr(s.StartedAt)
		resp.FinishedAt = timePtr(s.FinishedAt)
		resp.Error = s.Message
	}

	return resp
}

// SubmitResponse is returned when a render job is accepted.
type SubmitResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
