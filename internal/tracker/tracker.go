package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
	"github.com/jengzang/drone-imagery-dashboard/internal/taskstatus"
)

// Storage keys, kept identical to the browser localStorage keys of the dashboard.
const (
	KeyProcessingTasks = "processingTasks"
	KeyPendingUploads  = "pendingUploads"
)

// DefaultPollInterval is the period between automatic poll cycles.
const DefaultPollInterval = 3 * time.Second

// ErrTaskNotFound is returned for ids that are not tracked.
var ErrTaskNotFound = errors.New("task not found")

// StatusFetcher asks the processing backend for the current job status.
type StatusFetcher interface {
	GetTaskStatus(ctx context.Context, taskID string) (*models.TaskStatusResponse, error)
}

// Storage is the durable key/value store holding the serialized task list.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Publisher receives a copy of every task after it changes.
type Publisher interface {
	PublishTask(task models.ProcessingTask)
}

// Options configures a Tracker.
type Options struct {
	Interval  time.Duration
	Synonyms  *taskstatus.Table
	Publisher Publisher
	Now       func() time.Time
}

// Tracker keeps the list of submitted processing jobs in sync with the backend.
type Tracker struct {
	fetcher   StatusFetcher
	store     Storage
	synonyms  *taskstatus.Table
	publisher Publisher
	interval  time.Duration
	now       func() time.Time
	logger    *logrus.Entry

	// persistMu serializes writes to storage so snapshots land in order
	persistMu sync.Mutex

	mu    sync.RWMutex
	tasks []*models.ProcessingTask
	index map[string]*models.ProcessingTask
}

// New creates an empty tracker. Call Init to load persisted state.
func New(fetcher StatusFetcher, store Storage, logger *logrus.Logger, opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Synonyms == nil {
		opts.Synonyms = taskstatus.DefaultTable()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Tracker{
		fetcher:   fetcher,
		store:     store,
		synonyms:  opts.Synonyms,
		publisher: opts.Publisher,
		interval:  opts.Interval,
		now:       opts.Now,
		logger:    logger.WithField("component", "tracker"),
		index:     make(map[string]*models.ProcessingTask),
	}
}

// Init reloads the persisted task list and registers any pending uploads that
// never made it into the list. Malformed stored state is logged and ignored.
func (t *Tracker) Init(ctx context.Context) error {
	var stored []models.ProcessingTask
	if err := t.loadJSON(ctx, KeyProcessingTasks, &stored); err != nil {
		return err
	}

	var pending []models.UploadResponse
	if err := t.loadJSON(ctx, KeyPendingUploads, &pending); err != nil {
		return err
	}

	t.mu.Lock()
	t.tasks = t.tasks[:0]
	t.index = make(map[string]*models.ProcessingTask, len(stored)+len(pending))
	for i := range stored {
		task := stored[i]
		if task.ID == "" {
			continue
		}
		if _, dup := t.index[task.ID]; dup {
			continue
		}
		if !task.Status.Valid() {
			task.Status = t.normalizeOr(string(task.Status), taskstatus.Queued)
		}
		t.appendLocked(&task)
	}
	added := 0
	for _, resp := range pending {
		if resp.TaskID == "" {
			continue
		}
		if _, ok := t.index[resp.TaskID]; ok {
			continue
		}
		t.appendLocked(t.newTask(resp))
		added++
	}
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"tasks":        len(stored),
		"pending":      len(pending),
		"from_pending": added,
	}).Info("Tracker state restored")

	if err := t.persist(ctx); err != nil {
		return err
	}
	if len(pending) > 0 {
		return t.store.Delete(ctx, KeyPendingUploads)
	}
	return nil
}

// RecordPending appends resp to the pending-uploads queue so a restart between
// upload success and Ingest does not lose the job.
func (t *Tracker) RecordPending(ctx context.Context, resp models.UploadResponse) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	var pending []models.UploadResponse
	if err := t.loadJSON(ctx, KeyPendingUploads, &pending); err != nil {
		return err
	}
	for _, p := range pending {
		if p.TaskID == resp.TaskID {
			return nil
		}
	}
	pending = append(pending, resp)
	return t.putJSON(ctx, KeyPendingUploads, pending)
}

// Ingest registers an upload result. It is a no-op when the id is already tracked.
func (t *Tracker) Ingest(ctx context.Context, resp models.UploadResponse) (bool, error) {
	if resp.TaskID == "" {
		return false, fmt.Errorf("upload response has no task_id")
	}

	t.mu.Lock()
	if _, ok := t.index[resp.TaskID]; ok {
		t.mu.Unlock()
		return false, t.ackPending(ctx, resp.TaskID)
	}
	task := t.newTask(resp)
	t.appendLocked(task)
	snapshot := task.Clone()
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"task_id":    resp.TaskID,
		"file_count": resp.FileCount,
		"status":     snapshot.Status,
	}).Info("Tracking new processing task")

	t.publish(snapshot)
	if err := t.persist(ctx); err != nil {
		return true, err
	}
	return true, t.ackPending(ctx, resp.TaskID)
}

// Remove stops tracking a task.
func (t *Tracker) Remove(ctx context.Context, id string) error {
	t.mu.Lock()
	if _, ok := t.index[id]; !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	delete(t.index, id)
	for i, task := range t.tasks {
		if task.ID == id {
			t.tasks = append(t.tasks[:i], t.tasks[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	t.logger.WithField("task_id", id).Info("Stopped tracking task")
	return t.persist(ctx)
}

// Tasks returns a snapshot of all tracked tasks in insertion order.
func (t *Tracker) Tasks() []models.ProcessingTask {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.ProcessingTask, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, task.Clone())
	}
	return out
}

// Task returns a snapshot of one tracked task.
func (t *Tracker) Task(id string) (models.ProcessingTask, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	task, ok := t.index[id]
	if !ok {
		return models.ProcessingTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task.Clone(), nil
}

// ActiveIDs returns the ids the next poll cycle will query, sorted.
func (t *Tracker) ActiveIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []string
	for _, task := range t.tasks {
		if task.Status.IsActive() {
			ids = append(ids, task.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of tasks in each state.
func (t *Tracker) Counts() map[taskstatus.Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[taskstatus.Status]int, 4)
	for _, s := range taskstatus.All() {
		counts[s] = 0
	}
	for _, task := range t.tasks {
		counts[task.Status]++
	}
	return counts
}

func (t *Tracker) newTask(resp models.UploadResponse) *models.ProcessingTask {
	now := t.now().UTC()
	status := t.normalizeOr(resp.Status, taskstatus.Queued)
	// a fresh upload is never terminal from the tracker's point of view
	if status.IsTerminal() {
		status = taskstatus.Queued
	}
	files := append([]string(nil), resp.Files...)
	fileCount := resp.FileCount
	if fileCount == 0 {
		fileCount = len(files)
	}
	return &models.ProcessingTask{
		ID:            resp.TaskID,
		NodeODMTaskID: resp.NodeODMTaskID,
		TaskName:      resp.TaskName,
		Status:        status,
		RawStatus:     resp.Status,
		Progress:      0,
		FileCount:     fileCount,
		Files:         files,
		CreatedAt:     resp.CreatedTime(now),
		UpdatedAt:     now,
	}
}

func (t *Tracker) normalizeOr(raw string, fallback taskstatus.Status) taskstatus.Status {
	if raw == "" {
		return fallback
	}
	s, err := t.synonyms.Parse(raw)
	if err != nil {
		t.logger.WithField("status", raw).Warn("Unrecognized task status")
		return fallback
	}
	return s
}

func (t *Tracker) appendLocked(task *models.ProcessingTask) {
	t.tasks = append(t.tasks, task)
	t.index[task.ID] = task
}

func (t *Tracker) publish(task models.ProcessingTask) {
	if t.publisher != nil {
		t.publisher.PublishTask(task)
	}
}

// persist writes the full task list.
func (t *Tracker) persist(ctx context.Context) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	return t.putJSON(ctx, KeyProcessingTasks, t.Tasks())
}

func (t *Tracker) ackPending(ctx context.Context, id string) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	var pending []models.UploadResponse
	if err := t.loadJSON(ctx, KeyPendingUploads, &pending); err != nil {
		return err
	}
	kept := pending[:0]
	for _, p := range pending {
		if p.TaskID != id {
			kept = append(kept, p)
		}
	}
	switch {
	case len(kept) == len(pending):
		return nil
	case len(kept) == 0:
		return t.store.Delete(ctx, KeyPendingUploads)
	}
	return t.putJSON(ctx, KeyPendingUploads, kept)
}

// loadJSON decodes key into out. A missing key leaves out empty; a malformed
// document is logged and treated as empty.
func (t *Tracker) loadJSON(ctx context.Context, key string, out interface{}) error {
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		t.logger.WithError(err).WithField("key", key).Warn("Ignoring malformed persisted state")
		// reset anything a partial decode left behind
		_ = json.Unmarshal([]byte("null"), out)
		return nil
	}
	return nil
}

func (t *Tracker) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", key, err)
	}
	if err := t.store.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}
