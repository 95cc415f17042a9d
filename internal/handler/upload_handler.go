package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/drone-imagery-dashboard/internal/backend"
	"github.com/jengzang/drone-imagery-dashboard/internal/models"
	"github.com/jengzang/drone-imagery-dashboard/internal/service"
	"github.com/jengzang/drone-imagery-dashboard/pkg/response"
)

// UploadHandler handles image batch uploads
type UploadHandler struct {
	service *service.UploadService
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(service *service.UploadService) *UploadHandler {
	return &UploadHandler{service: service}
}

// Upload handles POST /api/v1/uploads
func (h *UploadHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.BadRequest(c, "Invalid multipart form", err)
		return
	}

	var headers []*multipart.FileHeader
	headers = append(headers, form.File["files"]...)
	headers = append(headers, form.File["files[]"]...)
	names := make([]string, len(headers))
	for i, fh := range headers {
		names[i] = fh.Filename
	}
	if err := h.service.Validate(names); err != nil {
		response.BadRequest(c, "Invalid upload", err)
		return
	}

	opts := models.UploadRequest{TaskName: c.PostForm("task_name")}
	if opts.Heading, err = optionalFloat(c.PostForm("heading")); err != nil {
		response.BadRequest(c, "Invalid heading", err)
		return
	}
	if opts.GridSize, err = optionalFloat(c.PostForm("grid_size")); err != nil {
		response.BadRequest(c, "Invalid grid_size", err)
		return
	}

	files := make([]backend.UploadFile, 0, len(headers))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			response.BadRequest(c, "Failed to read "+fh.Filename, err)
			return
		}
		opened = append(opened, f)
		files = append(files, backend.UploadFile{Name: fh.Filename, Reader: f})
	}

	resp, err := h.service.Upload(c.Request.Context(), files, opts)
	switch {
	case err == nil:
		response.Created(c, resp)
	case errors.Is(err, service.ErrInvalidUpload):
		response.BadRequest(c, "Invalid upload", err)
	case errors.Is(err, service.ErrBackendUnavailable):
		response.ServiceUnavailable(c, "Processing backend is unavailable", err)
	default:
		response.BadGateway(c, "Upload failed", err)
	}
}

func optionalFloat(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// statusFor maps a backend error to the dashboard status code
func statusFor(err error) int {
	var httpErr *backend.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
