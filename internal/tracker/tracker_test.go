package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
	"github.com/jengzang/drone-imagery-dashboard/internal/taskstatus"
)

// fakeFetcher answers status requests from a table and records every call.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*models.TaskStatusResponse
	errs      map[string]error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*models.TaskStatusResponse),
		errs:      make(map[string]error),
	}
}

func (f *fakeFetcher) set(id, status string, progress float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[id] = &models.TaskStatusResponse{Status: status, Progress: models.FlexFloat(progress)}
	delete(f.errs, id)
}

func (f *fakeFetcher) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeFetcher) GetTaskStatus(_ context.Context, id string) (*models.TaskStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	if resp, ok := f.responses[id]; ok {
		cp := *resp
		return &cp, nil
	}
	return nil, fmt.Errorf("Failed to get task status: 404 not found")
}

func (f *fakeFetcher) takeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls
	f.calls = nil
	sort.Strings(calls)
	return calls
}

// memStorage is an in-memory Storage.
type memStorage struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string]string)}
}

func (m *memStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStorage) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	tasks []models.ProcessingTask
}

func (p *recordingPublisher) PublishTask(task models.ProcessingTask) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
}

func newTestTracker(t *testing.T, fetcher StatusFetcher, store Storage) (*Tracker, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	tr := New(fetcher, store, logger, Options{Interval: 10 * time.Millisecond})
	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return tr, hook
}

func upload(id string) models.UploadResponse {
	return models.UploadResponse{
		TaskID:        id,
		NodeODMTaskID: "n-" + id,
		FileCount:     3,
		Status:        "processing",
		Files:         []string{"DJI_0001.JPG", "DJI_0002.JPG", "DJI_0003.JPG"},
		CreatedAt:     "2024-01-15T10:30:00",
	}
}

func storedTasks(t *testing.T, store *memStorage) []models.ProcessingTask {
	t.Helper()
	raw, ok, _ := store.Get(context.Background(), KeyProcessingTasks)
	if !ok {
		t.Fatal("processingTasks not persisted")
	}
	var tasks []models.ProcessingTask
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		t.Fatalf("decode persisted tasks: %v", err)
	}
	return tasks
}

func TestIngestIsIdempotent(t *testing.T) {
	store := newMemStorage()
	tr, _ := newTestTracker(t, newFakeFetcher(), store)
	ctx := context.Background()

	added, err := tr.Ingest(ctx, upload("t1"))
	if err != nil || !added {
		t.Fatalf("first Ingest() = %v, %v; want true, nil", added, err)
	}

	dup := upload("t1")
	dup.FileCount = 99
	added, err = tr.Ingest(ctx, dup)
	if err != nil || added {
		t.Fatalf("second Ingest() = %v, %v; want false, nil", added, err)
	}

	tasks := tr.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	if tasks[0].FileCount != 3 {
		t.Fatalf("file count = %d, want original 3", tasks[0].FileCount)
	}
	if got := storedTasks(t, store); len(got) != 1 {
		t.Fatalf("persisted tasks = %d, want 1", len(got))
	}
}

func TestIngestRejectsMissingID(t *testing.T) {
	tr, _ := newTestTracker(t, newFakeFetcher(), newMemStorage())
	if _, err := tr.Ingest(context.Background(), models.UploadResponse{}); err == nil {
		t.Fatal("expected error for empty task id")
	}
}

func TestIngestNormalizesInitialStatus(t *testing.T) {
	tr, _ := newTestTracker(t, newFakeFetcher(), newMemStorage())
	ctx := context.Background()

	for id, raw := range map[string]string{"a": "processing", "b": "uploaded", "c": "completed", "d": ""} {
		resp := upload(id)
		resp.Status = raw
		if _, err := tr.Ingest(ctx, resp); err != nil {
			t.Fatalf("Ingest(%s) error = %v", id, err)
		}
	}

	want := map[string]taskstatus.Status{
		"a": taskstatus.Running,
		"b": taskstatus.Queued,
		"c": taskstatus.Queued,
		"d": taskstatus.Queued,
	}
	for id, status := range want {
		task, err := tr.Task(id)
		if err != nil {
			t.Fatalf("Task(%s) error = %v", id, err)
		}
		if task.Status != status || task.Progress != 0 {
			t.Fatalf("task %s = %s/%v, want %s/0", id, task.Status, task.Progress, status)
		}
	}
}

func TestTerminalTasksAreNotPolled(t *testing.T) {
	fetcher := newFakeFetcher()
	tr, _ := newTestTracker(t, fetcher, newMemStorage())
	ctx := context.Background()

	for _, id := range []string{"done", "broken", "busy"} {
		if _, err := tr.Ingest(ctx, upload(id)); err != nil {
			t.Fatalf("Ingest(%s): %v", id, err)
		}
	}
	fetcher.set("done", "success", 100)
	fetcher.set("broken", "TaskStatus.FAILED", 12)
	fetcher.set("busy", "RUNNING", 40)

	res := tr.PollOnce(ctx)
	if res.Polled != 3 || res.Completed != 1 || res.Failed != 1 {
		t.Fatalf("first poll = %+v", res)
	}
	fetcher.takeCalls()

	tr.PollOnce(ctx)
	calls := fetcher.takeCalls()
	if len(calls) != 1 || calls[0] != "busy" {
		t.Fatalf("second poll calls = %v, want [busy]", calls)
	}
	if ids := tr.ActiveIDs(); len(ids) != 1 || ids[0] != "busy" {
		t.Fatalf("active ids = %v, want [busy]", ids)
	}
}

func TestRunningSynonymsNormalizeToSameState(t *testing.T) {
	fetcher := newFakeFetcher()
	tr, _ := newTestTracker(t, fetcher, newMemStorage())
	ctx := context.Background()

	raws := map[string]string{"a": "TaskStatus.RUNNING", "b": "RUNNING", "c": "processing"}
	for id, raw := range raws {
		if _, err := tr.Ingest(ctx, upload(id)); err != nil {
			t.Fatalf("Ingest(%s): %v", id, err)
		}
		fetcher.set(id, raw, 10)
	}
	tr.PollOnce(ctx)

	for id, raw := range raws {
		task, _ := tr.Task(id)
		if task.Status != taskstatus.Running {
			t.Fatalf("%q normalized to %s, want running", raw, task.Status)
		}
		if task.RawStatus != raw {
			t.Fatalf("raw status = %q, want %q", task.RawStatus, raw)
		}
	}
}

func TestPollFailureIsIsolated(t *testing.T) {
	fetcher := newFakeFetcher()
	pub := &recordingPublisher{}
	logger, _ := test.NewNullLogger()
	tr := New(fetcher, newMemStorage(), logger, Options{Publisher: pub})
	ctx := context.Background()

	for _, id := range []string{"A", "B"} {
		if _, err := tr.Ingest(ctx, upload(id)); err != nil {
			t.Fatalf("Ingest(%s): %v", id, err)
		}
	}
	fetcher.fail("A", errors.New("connection refused"))
	fetcher.set("B", "running", 55)

	tr.PollOnce(ctx)

	a, _ := tr.Task("A")
	if a.Status != taskstatus.Failed || a.ErrorMessage != "connection refused" {
		t.Fatalf("A = %s (%q), want failed with message", a.Status, a.ErrorMessage)
	}
	b, _ := tr.Task("B")
	if b.Status != taskstatus.Running || b.Progress != 55 || b.ErrorMessage != "" {
		t.Fatalf("B = %+v, want running 55", b)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	// two ingests and two poll updates
	if len(pub.tasks) != 4 {
		t.Fatalf("published = %d, want 4", len(pub.tasks))
	}
}

func TestUnknownStatusKeepsPreviousState(t *testing.T) {
	fetcher := newFakeFetcher()
	tr, hook := newTestTracker(t, fetcher, newMemStorage())
	ctx := context.Background()

	if _, err := tr.Ingest(ctx, upload("t1")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	fetcher.set("t1", "TaskStatus.PAUSED", 70)
	tr.PollOnce(ctx)

	task, _ := tr.Task("t1")
	if task.Status != taskstatus.Running || task.Progress != 0 {
		t.Fatalf("task = %s/%v, want unchanged running/0", task.Status, task.Progress)
	}
	if task.RawStatus != "TaskStatus.PAUSED" {
		t.Fatalf("raw status = %q", task.RawStatus)
	}

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["status"] == "TaskStatus.PAUSED" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a warning for the unrecognized status")
	}
}

func TestInitMergesPendingUploads(t *testing.T) {
	store := newMemStorage()
	ctx := context.Background()

	existing := []models.ProcessingTask{{
		ID:     "old",
		Status: taskstatus.Completed,
	}}
	data, _ := json.Marshal(existing)
	store.Put(ctx, KeyProcessingTasks, string(data))

	pending, _ := json.Marshal([]models.UploadResponse{upload("old"), upload("new")})
	store.Put(ctx, KeyPendingUploads, string(pending))

	tr, _ := newTestTracker(t, newFakeFetcher(), store)

	tasks := tr.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	if tasks[0].ID != "old" || tasks[0].Status != taskstatus.Completed {
		t.Fatalf("restored task = %+v", tasks[0])
	}
	if tasks[1].ID != "new" || tasks[1].Progress != 0 {
		t.Fatalf("pending task = %+v", tasks[1])
	}

	if raw, ok, _ := store.Get(ctx, KeyPendingUploads); ok {
		t.Fatalf("pendingUploads = %s, want cleared", raw)
	}
	if got := storedTasks(t, store); len(got) != 2 {
		t.Fatalf("persisted tasks = %d, want 2", len(got))
	}
}

func TestInitIgnoresMalformedState(t *testing.T) {
	store := newMemStorage()
	store.Put(context.Background(), KeyProcessingTasks, "{not-json")

	tr, hook := newTestTracker(t, newFakeFetcher(), store)
	if n := len(tr.Tasks()); n != 0 {
		t.Fatalf("tasks = %d, want 0", n)
	}

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["key"] == KeyProcessingTasks {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected malformed state warning")
	}
}

func TestRecordPendingThenIngestAcknowledges(t *testing.T) {
	store := newMemStorage()
	tr, _ := newTestTracker(t, newFakeFetcher(), store)
	ctx := context.Background()

	if err := tr.RecordPending(ctx, upload("t1")); err != nil {
		t.Fatalf("RecordPending: %v", err)
	}
	if err := tr.RecordPending(ctx, upload("t1")); err != nil {
		t.Fatalf("RecordPending again: %v", err)
	}
	raw, _, _ := store.Get(ctx, KeyPendingUploads)
	var pending []models.UploadResponse
	json.Unmarshal([]byte(raw), &pending)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	if _, err := tr.Ingest(ctx, upload("t1")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if raw, ok, _ := store.Get(ctx, KeyPendingUploads); ok {
		t.Fatalf("pendingUploads after ingest = %s, want cleared", raw)
	}
}

func TestRemove(t *testing.T) {
	store := newMemStorage()
	tr, _ := newTestTracker(t, newFakeFetcher(), store)
	ctx := context.Background()

	tr.Ingest(ctx, upload("t1"))
	tr.Ingest(ctx, upload("t2"))

	if err := tr.Remove(ctx, "t1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := tr.Remove(ctx, "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("second Remove error = %v, want ErrTaskNotFound", err)
	}
	if got := storedTasks(t, store); len(got) != 1 || got[0].ID != "t2" {
		t.Fatalf("persisted = %+v, want only t2", got)
	}
}

func TestEndToEndUploadThenComplete(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newMemStorage()
	tr, _ := newTestTracker(t, fetcher, store)
	ctx := context.Background()

	_, err := tr.Ingest(ctx, models.UploadResponse{
		TaskID:        "t1",
		NodeODMTaskID: "n1",
		FileCount:     3,
		Status:        "processing",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	tasks := tr.Tasks()
	if len(tasks) != 1 || tasks[0].ID != "t1" || tasks[0].Progress != 0 {
		t.Fatalf("after ingest = %+v", tasks)
	}

	fetcher.set("t1", "completed", 100)
	tr.Refresh(ctx)

	task, _ := tr.Task("t1")
	if task.Status != taskstatus.Completed || task.Progress != 100 || task.CompletedAt == nil {
		t.Fatalf("after poll = %+v", task)
	}
	fetcher.takeCalls()

	tr.PollOnce(ctx)
	if calls := fetcher.takeCalls(); len(calls) != 0 {
		t.Fatalf("completed task polled again: %v", calls)
	}

	persisted := storedTasks(t, store)
	if persisted[0].Status != taskstatus.Completed {
		t.Fatalf("persisted status = %s, want completed", persisted[0].Status)
	}
}

func TestProgressIsClamped(t *testing.T) {
	fetcher := newFakeFetcher()
	tr, _ := newTestTracker(t, fetcher, newMemStorage())
	ctx := context.Background()

	tr.Ingest(ctx, upload("t1"))
	fetcher.set("t1", "running", 140)
	tr.PollOnce(ctx)

	task, _ := tr.Task("t1")
	if task.Progress != 100 {
		t.Fatalf("progress = %v, want 100", task.Progress)
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	fetcher := newFakeFetcher()
	tr, _ := newTestTracker(t, fetcher, newMemStorage())
	ctx, cancel := context.WithCancel(context.Background())

	tr.Ingest(ctx, upload("t1"))
	fetcher.set("t1", "running", 5)

	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		fetcher.mu.Lock()
		n := len(fetcher.calls)
		fetcher.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("poller made %d calls, want at least 2", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// stallingFetcher holds every request until its context ends, like a backend that never answers.
type stallingFetcher struct {
	started chan string
}

func (f *stallingFetcher) GetTaskStatus(ctx context.Context, id string) (*models.TaskStatusResponse, error) {
	select {
	case f.started <- id:
	default:
	}
	<-ctx.Done()
	return nil, fmt.Errorf("get task status: %w", ctx.Err())
}

// ctxCheckingFetcher fails when called with a finished context and reports running otherwise.
type ctxCheckingFetcher struct{}

func (ctxCheckingFetcher) GetTaskStatus(ctx context.Context, id string) (*models.TaskStatusResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get task status: %w", err)
	}
	return &models.TaskStatusResponse{Status: "RUNNING", Progress: 60}, nil
}

func assertStillActive(t *testing.T, tr *Tracker, id string) {
	t.Helper()
	task, err := tr.Task(id)
	if err != nil {
		t.Fatalf("Task(%s) error = %v", id, err)
	}
	if task.Status != taskstatus.Running || task.ErrorMessage != "" {
		t.Fatalf("task = %s (%q), want running without error", task.Status, task.ErrorMessage)
	}
	if ids := tr.ActiveIDs(); len(ids) != 1 || ids[0] != id {
		t.Fatalf("active ids = %v, want [%s]", ids, id)
	}
}

func TestPollDeadlineLeavesTasksActive(t *testing.T) {
	store := newMemStorage()
	tr, _ := newTestTracker(t, &stallingFetcher{started: make(chan string, 1)}, store)
	if _, err := tr.Ingest(context.Background(), upload("t1")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := tr.PollOnce(ctx)
	if res.Polled != 1 || res.Updated != 0 || res.Failed != 0 {
		t.Fatalf("poll = %+v, want 1 polled and nothing updated", res)
	}

	assertStillActive(t, tr, "t1")
	if got := storedTasks(t, store); got[0].Status != taskstatus.Running {
		t.Fatalf("persisted status = %s, want running", got[0].Status)
	}
}

func TestRefreshOutlivesCallerContext(t *testing.T) {
	tr, _ := newTestTracker(t, ctxCheckingFetcher{}, newMemStorage())
	if _, err := tr.Ingest(context.Background(), upload("t1")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := tr.Refresh(ctx)
	if res.Updated != 1 {
		t.Fatalf("refresh = %+v, want 1 updated", res)
	}

	assertStillActive(t, tr, "t1")
	task, _ := tr.Task("t1")
	if task.Progress != 60 {
		t.Fatalf("progress = %v, want 60", task.Progress)
	}
}

func TestRunShutdownLeavesInFlightTasksActive(t *testing.T) {
	fetcher := &stallingFetcher{started: make(chan string, 1)}
	tr, _ := newTestTracker(t, fetcher, newMemStorage())
	if _, err := tr.Ingest(context.Background(), upload("t1")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never queried the backend")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assertStillActive(t, tr, "t1")
}

func TestCounts(t *testing.T) {
	fetcher := newFakeFetcher()
	tr, _ := newTestTracker(t, fetcher, newMemStorage())
	ctx := context.Background()

	tr.Ingest(ctx, upload("a"))
	tr.Ingest(ctx, upload("b"))
	fetcher.set("a", "completed", 100)
	fetcher.set("b", "running", 10)
	tr.PollOnce(ctx)

	counts := tr.Counts()
	if counts[taskstatus.Completed] != 1 || counts[taskstatus.Running] != 1 || counts[taskstatus.Queued] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}
