package worker

import (
	"errors"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/wavecast/api/internal/model"
)

// Cleanup removes a job's scratch inputs. Rendered outputs are never touched.
type Cleanup struct {
	log logrus.FieldLogger
}

func NewCleanup(log logrus.FieldLogger) *Cleanup {
	return &Cleanup{log: log}
}

// Inputs deletes the uploaded audio and cover of job. Files that are
// already gone are ignored; other failures are logged and swallowed.
func (c *Cleanup) Inputs(job model.Job) {
	c.Files(job.ID, job.InputPath, job.CoverPath)
}

// Files deletes each non-empty path.
func (c *Cleanup) Files(jobID string, paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.log.WithFields(logrus.Fields{"job_id": jobID, "path": p}).WithError(err).Warn("failed to remove scratch file")
		}
	}
}
