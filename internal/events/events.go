package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
)

// NATS subjects
const (
	TaskStatusSubject      = "tasks.status"
	UploadCompletedSubject = "uploads.completed"
)

// TaskEvent is published whenever a tracked task changes
type TaskEvent struct {
	TaskID      string                `json:"task_id"`
	Status      string                `json:"status"`
	Progress    float64               `json:"progress"`
	Task        models.ProcessingTask `json:"task"`
	PublishedAt time.Time             `json:"published_at"`
}

// Connect opens a NATS connection that logs disconnects and reconnects
func Connect(url string, logger *logrus.Logger) (*nats.Conn, error) {
	entry := logger.WithField("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name("drone-imagery-dashboard"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				entry.WithError(err).Warn("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			entry.WithField("url", c.ConnectedUrl()).Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	entry.WithField("url", url).Info("Connected to NATS")
	return nc, nil
}

// publishConn is the part of *nats.Conn the publisher needs
type publishConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher sends task changes to TaskStatusSubject
type NATSPublisher struct {
	conn   publishConn
	logger *logrus.Entry
	now    func() time.Time
}

// NewNATSPublisher creates a publisher on an open connection
func NewNATSPublisher(conn publishConn, logger *logrus.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		logger: logger.WithField("component", "events"),
		now:    time.Now,
	}
}

// PublishTask serializes and publishes a task event. Failures are logged, never returned.
func (p *NATSPublisher) PublishTask(task models.ProcessingTask) {
	data, err := json.Marshal(TaskEvent{
		TaskID:      task.ID,
		Status:      task.Status.String(),
		Progress:    task.Progress,
		Task:        task,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		p.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to serialize task event")
		return
	}
	if err := p.conn.Publish(TaskStatusSubject, data); err != nil {
		p.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to publish task event")
		return
	}
	p.logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"status":  task.Status,
	}).Debug("Published task event")
}

// LogPublisher writes task changes to the log when no broker is configured
type LogPublisher struct {
	logger *logrus.Entry
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.WithField("component", "events")}
}

// PublishTask logs the change at debug level
func (p *LogPublisher) PublishTask(task models.ProcessingTask) {
	p.logger.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"status":   task.Status,
		"progress": task.Progress,
	}).Debug("Task changed")
}

// Ingester registers upload results with the tracker
type Ingester interface {
	RecordPending(ctx context.Context, resp models.UploadResponse) error
	Ingest(ctx context.Context, resp models.UploadResponse) (bool, error)
}

// UploadListener feeds upload results announced on UploadCompletedSubject into the tracker.
// This covers uploads made by other clients straight against the processing backend.
type UploadListener struct {
	ingester Ingester
	logger   *logrus.Entry
	timeout  time.Duration
}

// NewUploadListener creates a listener
func NewUploadListener(ingester Ingester, logger *logrus.Logger) *UploadListener {
	return &UploadListener{
		ingester: ingester,
		logger:   logger.WithField("component", "events"),
		timeout:  10 * time.Second,
	}
}

// Subscribe starts receiving upload results on nc
func (l *UploadListener) Subscribe(nc *nats.Conn) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(UploadCompletedSubject, func(msg *nats.Msg) {
		l.Handle(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", UploadCompletedSubject, err)
	}
	l.logger.Infof("Listening for upload results on %s", UploadCompletedSubject)
	return sub, nil
}

// Handle decodes one message and ingests it
func (l *UploadListener) Handle(data []byte) {
	var resp models.UploadResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		l.logger.WithError(err).Error("Failed to parse upload result")
		return
	}
	if resp.TaskID == "" {
		l.logger.Warn("Upload result without task_id ignored")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	entry := l.logger.WithField("task_id", resp.TaskID)
	if err := l.ingester.RecordPending(ctx, resp); err != nil {
		entry.WithError(err).Error("Failed to record pending upload")
		return
	}
	added, err := l.ingester.Ingest(ctx, resp)
	if err != nil {
		entry.WithError(err).Error("Failed to ingest upload result")
		return
	}
	if added {
		entry.Info("Ingested upload result from NATS")
	}
}
