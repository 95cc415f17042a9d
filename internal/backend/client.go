package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
)

// maximum error body kept in HTTPError
const maxErrorBody = 4 << 10

var absoluteURL = regexp.MustCompile(`(?i)^https?://`)

// HTTPError is returned when the backend answers with a non-2xx status
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s failed: %d %s", e.Op, e.StatusCode, e.Body)
}

// UploadFile is one image streamed to the backend
type UploadFile struct {
	Name   string
	Reader io.Reader
}

// Client talks to the external processing backend (upload/results API in front of NodeODM)
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Entry
}

// NewClient creates a backend client with the given request timeout
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout}, logger)
}

// NewClientWithHTTP creates a backend client around an existing http.Client
func NewClientWithHTTP(baseURL string, hc *http.Client, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger.WithField("component", "backend"),
	}
}

// BaseURL returns the configured backend root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BuildURL passes absolute URLs through and prefixes relative paths with the base URL
func (c *Client) BuildURL(pathOrURL string) string {
	if absoluteURL.MatchString(pathOrURL) {
		return pathOrURL
	}
	if pathOrURL != "" && !strings.HasPrefix(pathOrURL, "/") {
		pathOrURL = "/" + pathOrURL
	}
	return c.baseURL + pathOrURL
}

// UploadFiles streams images as a multipart form to POST /api/v1/upload/
func (c *Client) UploadFiles(ctx context.Context, files []UploadFile, opts models.UploadRequest) (*models.UploadResponse, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(form, files, opts))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BuildURL("/api/v1/upload/"), pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out models.UploadResponse
	if err := c.do(req, "Upload", &out); err != nil {
		pr.Close()
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"task_id":    out.TaskID,
		"file_count": out.FileCount,
	}).Info("Upload accepted by backend")
	return &out, nil
}

func writeUploadForm(form *multipart.Writer, files []UploadFile, opts models.UploadRequest) error {
	for _, f := range files {
		part, err := form.CreateFormFile("files", f.Name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	if opts.TaskName != "" {
		if err := form.WriteField("task_name", opts.TaskName); err != nil {
			return err
		}
	}
	if opts.Heading != nil {
		if err := form.WriteField("heading", strconv.FormatFloat(*opts.Heading, 'f', -1, 64)); err != nil {
			return err
		}
	}
	if opts.GridSize != nil {
		if err := form.WriteField("grid_size", strconv.FormatFloat(*opts.GridSize, 'f', -1, 64)); err != nil {
			return err
		}
	}
	return form.Close()
}

// GetTaskStatus fetches GET /api/v1/upload/{task_id}/status
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*models.TaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BuildURL("/api/v1/upload/"+url.PathEscape(taskID)+"/status"), nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	var out models.TaskStatusResponse
	if err := c.do(req, "Get task status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListResults fetches GET /api/v1/results/
func (c *Client) ListResults(ctx context.Context) ([]models.ResultSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL("/api/v1/results/"), nil)
	if err != nil {
		return nil, fmt.Errorf("build results request: %w", err)
	}

	var out []models.ResultSummary
	if err := c.do(req, "List results", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProcessedFile opens GET /api/v1/results/{taskId}/{fileName}. The caller closes the body.
func (c *Client) GetProcessedFile(ctx context.Context, taskID, fileName string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BuildURL("/api/v1/results/"+url.PathEscape(taskID)+"/"+url.PathEscape(fileName)), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build file request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("get processed file: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, "", newHTTPError("Get processed file", resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// HealthCheck fetches GET /health
func (c *Client) HealthCheck(ctx context.Context) (*models.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL("/health"), nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var out models.HealthResponse
	if err := c.do(req, "Health check", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsBackendAvailable reports whether the health check succeeds
func (c *Client) IsBackendAvailable(ctx context.Context) bool {
	if _, err := c.HealthCheck(ctx); err != nil {
		c.logger.WithError(err).WithField("url", c.BuildURL("/health")).Warn("Backend not available")
		return false
	}
	return true
}

// TestConnection probes the health endpoint and reports the outcome in detail
func (c *Client) TestConnection(ctx context.Context) models.ConnectionReport {
	report := models.ConnectionReport{
		URL:       c.BuildURL("/health"),
		CheckedAt: time.Now().UTC(),
	}
	if _, err := c.HealthCheck(ctx); err != nil {
		report.Error = err.Error()
		return report
	}
	report.Success = true
	return report
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", strings.ToLower(op), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", strings.ToLower(op), err)
	}
	return nil
}

func newHTTPError(op string, resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
