package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
)

// Prober checks the processing backend once
type Prober interface {
	TestConnection(ctx context.Context) models.ConnectionReport
}

// Monitor keeps the latest backend availability verdict
type Monitor struct {
	prober Prober
	logger *logrus.Entry

	mu      sync.RWMutex
	report  models.ConnectionReport
	checked bool
}

// NewMonitor creates a monitor. Until the first check the backend counts as unavailable.
func NewMonitor(prober Prober, logger *logrus.Logger) *Monitor {
	return &Monitor{
		prober: prober,
		logger: logger.WithField("component", "health"),
	}
}

// Check probes the backend now and stores the result
func (m *Monitor) Check(ctx context.Context) models.ConnectionReport {
	report := m.prober.TestConnection(ctx)

	m.mu.Lock()
	wasAvailable := m.checked && m.report.Success
	first := !m.checked
	m.report = report
	m.checked = true
	m.mu.Unlock()

	entry := m.logger.WithField("url", report.URL)
	switch {
	case report.Success && (first || !wasAvailable):
		entry.Info("Processing backend is available")
	case !report.Success && (first || wasAvailable):
		entry.WithField("error", report.Error).Warn("Processing backend is unavailable")
	}
	return report
}

// Available reports the verdict of the most recent check
func (m *Monitor) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checked && m.report.Success
}

// Report returns the most recent check result and whether a check has run yet
func (m *Monitor) Report() (models.ConnectionReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.report, m.checked
}

// Run checks immediately and then on every interval until ctx is done
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
