package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	return NewClient(srv.URL, 5*time.Second, logger)
}

func TestBuildURL(t *testing.T) {
	logger, _ := test.NewNullLogger()
	c := NewClient("http://backend:8001/", time.Second, logger)

	cases := map[string]string{
		"/api/v1/results/":                       "http://backend:8001/api/v1/results/",
		"api/v1/results/t1/orthophoto.png":       "http://backend:8001/api/v1/results/t1/orthophoto.png",
		"https://cdn.example.com/orthophoto.png": "https://cdn.example.com/orthophoto.png",
		"HTTP://Other/x":                         "HTTP://Other/x",
	}
	for in, want := range cases {
		if got := c.BuildURL(in); got != want {
			t.Fatalf("BuildURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUploadFilesSendsMultipartForm(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/upload/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 {
			t.Errorf("files = %d, want 2", len(files))
		}
		if got := r.FormValue("task_name"); got != "north" {
			t.Errorf("task_name = %q, want north", got)
		}
		if got := r.FormValue("heading"); got != "90.5" {
			t.Errorf("heading = %q, want 90.5", got)
		}
		if got := r.FormValue("grid_size"); got != "" {
			t.Errorf("grid_size = %q, want empty", got)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"task_id":"t1","nodeodm_task_id":"n1","file_count":2,"status":"processing","files":["a.jpg","b.jpg"],"created_at":"2024-01-15T10:30:00.123456"}`)
	}))

	heading := 90.5
	resp, err := c.UploadFiles(context.Background(), []UploadFile{
		{Name: "a.jpg", Reader: strings.NewReader("aaa")},
		{Name: "b.jpg", Reader: strings.NewReader("bbb")},
	}, models.UploadRequest{TaskName: "north", Heading: &heading})
	if err != nil {
		t.Fatalf("UploadFiles() error = %v", err)
	}
	if resp.TaskID != "t1" || resp.NodeODMTaskID != "n1" || resp.FileCount != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	created := resp.CreatedTime(time.Time{})
	if created.Year() != 2024 || created.Month() != time.January {
		t.Fatalf("created = %v, want 2024-01-15", created)
	}
}

func TestUploadFilesHTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		http.Error(w, "Failed to create task in Node ODM", http.StatusInternalServerError)
	}))

	_, err := c.UploadFiles(context.Background(), []UploadFile{{Name: "a.jpg", Reader: strings.NewReader("x")}}, models.UploadRequest{})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", httpErr.StatusCode)
	}
	if !strings.HasPrefix(err.Error(), "Upload failed: 500") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestGetTaskStatusAcceptsStringAndNumberProgress(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/upload/t1/status":
			io.WriteString(w, `{"status":"TaskStatus.RUNNING","progress":"42.5"}`)
		case "/api/v1/upload/t2/status":
			io.WriteString(w, `{"status":"completed","progress":100}`)
		default:
			http.NotFound(w, r)
		}
	}))

	st, err := c.GetTaskStatus(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTaskStatus(t1) error = %v", err)
	}
	if st.Status != "TaskStatus.RUNNING" || float64(st.Progress) != 42.5 {
		t.Fatalf("t1 = %+v", st)
	}

	st, err = c.GetTaskStatus(context.Background(), "t2")
	if err != nil {
		t.Fatalf("GetTaskStatus(t2) error = %v", err)
	}
	if float64(st.Progress) != 100 {
		t.Fatalf("t2 progress = %v, want 100", st.Progress)
	}

	if _, err := c.GetTaskStatus(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing task")
	}
}

func TestGetTaskStatusMalformedJSON(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":`)
	}))
	if _, err := c.GetTaskStatus(context.Background(), "t1"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestListResultsAndGetProcessedFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/results/":
			io.WriteString(w, `[{"taskId":"t1","orthophotoPngUrl":"/api/v1/results/t1/orthophoto.png","reportPdfUrl":"/api/v1/results/t1/report.pdf"}]`)
		case "/api/v1/results/t1/orthophoto.png":
			w.Header().Set("Content-Type", "image/png")
			io.WriteString(w, "PNGDATA")
		default:
			http.NotFound(w, r)
		}
	}))

	results, err := c.ListResults(context.Background())
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if len(results) != 1 || results[0].ReportPdfURL == "" {
		t.Fatalf("results = %+v", results)
	}

	body, contentType, err := c.GetProcessedFile(context.Background(), "t1", "orthophoto.png")
	if err != nil {
		t.Fatalf("GetProcessedFile() error = %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "PNGDATA" || contentType != "image/png" {
		t.Fatalf("file = %q (%s)", data, contentType)
	}

	if _, _, err := c.GetProcessedFile(context.Background(), "t1", "report.pdf"); err == nil {
		t.Fatal("expected 404 error")
	}
}

func TestHealthAndConnection(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"status":"healthy","service":"drone-imagery-api"}`)
	}))

	if !c.IsBackendAvailable(context.Background()) {
		t.Fatal("expected backend available")
	}
	report := c.TestConnection(context.Background())
	if !report.Success || !strings.HasSuffix(report.URL, "/health") {
		t.Fatalf("report = %+v", report)
	}

	healthy.Store(false)
	if c.IsBackendAvailable(context.Background()) {
		t.Fatal("expected backend unavailable")
	}
	report = c.TestConnection(context.Background())
	if report.Success || !strings.Contains(report.Error, "503") {
		t.Fatalf("report = %+v", report)
	}
}
