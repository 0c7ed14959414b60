// Package doppler implements the Doppler Health Monitor: a periodic
// check of the cached-secrets file's staleness, run by a polling
// goroutine on a ticker.
package doppler

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pipectl/pipectl/internal/metrics"
	"github.com/pipectl/pipectl/internal/models"
)

const (
	// DefaultInterval is how often the monitor checks the cache file.
	DefaultInterval = 15 * time.Minute
	warningAge      = 12 * time.Hour
	criticalAge     = 24 * time.Hour
)

// EventEmitter is satisfied by the event bus.
type EventEmitter interface {
	Emit(evt models.Event)
}

// Monitor periodically inspects CachePath and emits alert events when the
// cached secrets file grows stale.
type Monitor struct {
	cachePath string
	interval  time.Duration
	events    EventEmitter
	logger    *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New constructs a Monitor. An empty cachePath means no on-disk cache is
// configured; the provider is assumed live and every check reports
// healthy.
func New(cachePath string, interval time.Duration, events EventEmitter, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		cachePath: cachePath,
		interval:  interval,
		events:    events,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the check loop in its own goroutine until Stop is called.
func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.check()
		for {
			select {
			case <-ticker.C:
				m.check()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// Severity levels reported by a single check, in addition to
// models.Severity: a warning/critical/error vocabulary that doesn't map
// one-to-one onto models.Severity.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusError    Status = "error"
)

// check inspects the cache file once and emits an alert event for any
// non-healthy outcome.
func (m *Monitor) check() {
	status, age := m.evaluate()
	metrics.DopplerCacheAgeSeconds.Set(age.Seconds())

	if status == StatusHealthy {
		return
	}

	sev := models.SeverityWarning
	if status == StatusCritical || status == StatusError {
		sev = models.SeverityError
	}

	m.logger.Warn("doppler cache stale", zap.String("status", string(status)), zap.Duration("age", age))
	if m.events != nil {
		m.events.Emit(models.Event{
			Type:      models.EventAlertHighImpact,
			Timestamp: time.Now(),
			Severity:  sev,
			Payload: models.JSONMap{
				"source":  "doppler",
				"status":  string(status),
				"ageSecs": age.Seconds(),
			},
		})
	}
}

// evaluate classifies the current cache file age. Missing cache file ->
// healthy (live provider assumed). I/O errors -> StatusError, non-fatal.
func (m *Monitor) evaluate() (Status, time.Duration) {
	if m.cachePath == "" {
		return StatusHealthy, 0
	}

	info, err := os.Stat(m.cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusHealthy, 0
		}
		return StatusError, 0
	}

	age := time.Since(info.ModTime())
	switch {
	case age > criticalAge:
		return StatusCritical, age
	case age > warningAge:
		return StatusWarning, age
	default:
		return StatusHealthy, age
	}
}
