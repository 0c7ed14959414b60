package doppler_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pipectl/pipectl/internal/doppler"
	"github.com/pipectl/pipectl/internal/models"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingEmitter) Emit(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMonitor_NoCachePathIsHealthy(t *testing.T) {
	emitter := &recordingEmitter{}
	m := doppler.New("", time.Hour, emitter, zap.NewNop())
	m.Start()
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	if emitter.count() != 0 {
		t.Errorf("expected no alerts with no cache path configured, got %d", emitter.count())
	}
}

func TestMonitor_MissingFileIsHealthy(t *testing.T) {
	emitter := &recordingEmitter{}
	m := doppler.New(filepath.Join(t.TempDir(), "missing.json"), time.Hour, emitter, zap.NewNop())
	m.Start()
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	if emitter.count() != 0 {
		t.Errorf("expected no alerts for a missing cache file, got %d", emitter.count())
	}
}

func TestMonitor_StaleFileEmitsAlert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write cache file: %v", err)
	}
	old := time.Now().Add(-25 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	emitter := &recordingEmitter{}
	m := doppler.New(path, time.Hour, emitter, zap.NewNop())
	m.Start()
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	if emitter.count() == 0 {
		t.Fatal("expected an alert for a cache file older than the critical threshold")
	}
	if emitter.events[0].Type != models.EventAlertHighImpact {
		t.Errorf("unexpected event type %v", emitter.events[0].Type)
	}
}
