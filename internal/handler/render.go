package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/wavecast/api/internal/service"
	"github.com/wavecast/api/pkg/response"
)

// formFields are the render options read from an upload.
var formFields = []string{
	"style", "resolution", "fps", "mode", "color", "secondary_color",
	"colors", "background", "start", "duration", "normalize",
}

type RenderHandler struct {
	service *service.RenderService
	log     logrus.FieldLogger
}

func NewRenderHandler(svc *service.RenderService, log logrus.FieldLogger) *RenderHandler {
	return &RenderHandler{
		service: svc,
		log:     log.WithField("component", "render_handler"),
	}
}

// Upload handles POST /upload
// @Summary      Submit render job
// @Description  Upload an audio file (and optional cover) and queue an MP4 visualisation render
// @Tags         Render
// @Accept       multipart/form-data
// @Produce      json
// @Param        audio      formData file   true  "Audio file (mp3, wav, m4a, ogg)"
// @Param        cover      formData file   false "Cover image (png, jpg)"
// @Param        style      formData string false "wave, spectrum, ripple or siri"
// @Param        resolution formData string false "WxH, default 1280x720"
// @Param        fps        formData int    false "15, 24, 25, 30, 50 or 60"
// @Param        colors     formData string false "Four comma separated colours (siri)"
// @Success      202 {object} model.SubmitResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      413 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /upload [post]
func (h *RenderHandler) Upload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Expected a multipart form with an audio file", nil)
	}

	req := service.SubmitRequest{
		Fields: make(map[string]string, len(formFields)),
	}
	for _, key := range formFields {
		if values := form.Value[key]; len(values) > 0 {
			req.Fields[key] = strings.Join(values, ",")
		}
	}
	if fh := firstFile(form, "audio"); fh != nil {
		req.Audio = fileInput(fh)
	}
	if fh := firstFile(form, "cover"); fh != nil {
		cover := fileInput(fh)
		req.Cover = &cover
	}

	result, err := h.service.Submit(c.UserContext(), req)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			details := validationDetails(verr)
			if verr.TooLarge {
				return response.PayloadTooLarge(c, verr.Error(), details)
			}
			return response.ValidationError(c, verr.Error(), details)
		}
		h.log.WithError(err).Error("failed to submit render job")
		return response.ServiceError(c, "Failed to queue render job")
	}

	return response.Accepted(c, result)
}

// Status handles GET /status/:jobId
// @Summary      Get render job status
// @Tags         Render
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /status/{jobId} [get]
func (h *RenderHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Status(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Download handles GET /download/:jobId
// @Summary      Download rendered video
// @Tags         Render
// @Produce      video/mp4
// @Param        jobId path string true "Job ID"
// @Success      200 {file} file
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /download/{jobId} [get]
func (h *RenderHandler) Download(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.Artifact(c.UserContext(), jobID)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrNotReady):
		return response.JobNotReady(c, string(job.Status()))
	case errors.Is(err, service.ErrJobFailed):
		return response.JobFailed(c, job.ErrorMessage())
	case errors.Is(err, service.ErrArtifactMissing):
		h.log.WithField("job_id", jobID).Warn("rendered output missing on disk")
		return response.NotFound(c, "Output file missing")
	default:
		return response.ServiceError(c, err.Error())
	}

	c.Set(fiber.HeaderContentType, "video/mp4")
	return c.Download(job.OutputPath(), job.ID+".mp4")
}

func firstFile(form *multipart.Form, key string) *multipart.FileHeader {
	files := form.File[key]
	if len(files) == 0 || files[0].Filename == "" {
		return nil
	}
	return files[0]
}

func fileInput(fh *multipart.FileHeader) service.FileInput {
	return service.FileInput{
		Name: fh.Filename,
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

func validationDetails(verr *service.ValidationError) map[string]string {
	details := make(map[string]string, len(verr.Details)+1)
	for k, v := range verr.Details {
		details[k] = v
	}
	if verr.Field != "" {
		details["field"] = verr.Field
	}
	if len(details) == 0 {
		return nil
	}
	return details
}
