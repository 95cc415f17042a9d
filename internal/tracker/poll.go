package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
	"github.com/jengzang/drone-imagery-dashboard/internal/taskstatus"
)

// PollResult summarizes one poll cycle.
type PollResult struct {
	Polled    int `json:"polled"`
	Updated   int `json:"updated"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type pollOutcome struct {
	id   string
	resp *models.TaskStatusResponse
	err  error
}

// Run polls active tasks immediately and then on every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.WithField("interval", t.interval.String()).Info("Task poller started")
	t.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Task poller stopped")
			return
		case <-ticker.C:
			t.PollOnce(ctx)
		}
	}
}

// Refresh runs one poll cycle on demand. The Run schedule is not affected.
// The cycle outlives ctx so a dropped client cannot abort the requests in flight.
func (t *Tracker) Refresh(ctx context.Context) PollResult {
	return t.PollOnce(context.WithoutCancel(ctx))
}

// PollOnce queries every active task concurrently and merges the answers by id.
// A failed request marks only that task as failed.
func (t *Tracker) PollOnce(ctx context.Context) PollResult {
	ids := t.ActiveIDs()
	if len(ids) == 0 {
		return PollResult{}
	}

	outcomes := make([]pollOutcome, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			resp, err := t.fetcher.GetTaskStatus(ctx, id)
			outcomes[i] = pollOutcome{id: id, resp: resp, err: err}
		}(i, id)
	}
	wg.Wait()

	result := PollResult{Polled: len(ids)}
	var changed []models.ProcessingTask
	skipped := 0

	t.mu.Lock()
	for _, o := range outcomes {
		task, ok := t.index[o.id]
		// removed, or finished by an overlapping cycle, while the request was in flight
		if !ok || task.IsTerminal() {
			continue
		}
		// our own cancellation says nothing about the job; the next cycle asks again
		if callerCancelled(ctx, o.err) {
			skipped++
			continue
		}
		if !t.applyLocked(task, o) {
			continue
		}
		result.Updated++
		switch task.Status {
		case taskstatus.Completed:
			result.Completed++
		case taskstatus.Failed:
			result.Failed++
		}
		changed = append(changed, task.Clone())
	}
	t.mu.Unlock()

	if skipped > 0 {
		t.logger.WithError(ctx.Err()).WithField("skipped", skipped).Info("Poll cycle interrupted, tasks left active")
	}

	for _, task := range changed {
		t.publish(task)
	}
	if len(changed) > 0 {
		if err := t.persist(ctx); err != nil {
			t.logger.WithError(err).Error("Failed to persist task list")
		}
	}

	t.logger.WithFields(logrus.Fields{
		"polled":    result.Polled,
		"updated":   result.Updated,
		"completed": result.Completed,
		"failed":    result.Failed,
	}).Debug("Poll cycle finished")
	return result
}

// applyLocked merges one poll outcome into task and reports whether anything changed.
func (t *Tracker) applyLocked(task *models.ProcessingTask, o pollOutcome) bool {
	before := *task
	now := t.now().UTC()
	entry := t.logger.WithField("task_id", task.ID)

	if o.err != nil {
		task.Status = taskstatus.Failed
		task.ErrorMessage = o.err.Error()
		task.UpdatedAt = now
		entry.WithError(o.err).Warn("Status poll failed, marking task failed")
		return true
	}

	status, err := t.synonyms.Parse(o.resp.Status)
	if err != nil {
		entry.WithField("status", o.resp.Status).Warn("Unrecognized task status, keeping previous state")
		if task.RawStatus != o.resp.Status {
			task.RawStatus = o.resp.Status
			task.UpdatedAt = now
			return true
		}
		return false
	}

	task.Status = status
	task.RawStatus = o.resp.Status
	task.Progress = clampProgress(float64(o.resp.Progress))

	switch status {
	case taskstatus.Completed:
		task.Progress = 100
		task.ErrorMessage = ""
		task.CompletedAt = &now
		entry.Info("Task completed")
	case taskstatus.Failed:
		task.ErrorMessage = o.resp.Message
		if task.ErrorMessage == "" {
			task.ErrorMessage = "processing failed on backend"
		}
		entry.WithField("error", task.ErrorMessage).Warn("Task failed on backend")
	}

	if task.Status == before.Status && task.Progress == before.Progress &&
		task.RawStatus == before.RawStatus && task.ErrorMessage == before.ErrorMessage {
		return false
	}
	task.UpdatedAt = now
	return true
}

func callerCancelled(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func clampProgress(p float64) float64 {
	switch {
	case p != p: // NaN
		return 0
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
