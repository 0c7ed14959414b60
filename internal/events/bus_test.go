package events_test

import (
	"testing"
	"time"

	"github.com/pipectl/pipectl/internal/events"
	"github.com/pipectl/pipectl/internal/models"
)

func TestEmit_DeliversOnlyToMatchingChannel(t *testing.T) {
	bus := events.New()
	scans := bus.Subscribe(events.ChannelScans)
	alerts := bus.Subscribe(events.ChannelAlerts)
	defer scans.Unsubscribe()
	defer alerts.Unsubscribe()

	bus.Emit(models.Event{Type: models.EventJobCompleted, JobID: "j1"})

	select {
	case evt := <-scans.Events():
		if evt.JobID != "j1" {
			t.Errorf("unexpected job id %s", evt.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected scans subscriber to receive job:completed")
	}

	select {
	case evt := <-alerts.Events():
		t.Fatalf("did not expect alerts subscriber to receive job:completed, got %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmit_RoutesRetryWarningToAlerts(t *testing.T) {
	bus := events.New()
	alerts := bus.Subscribe(events.ChannelAlerts)
	defer alerts.Unsubscribe()

	bus.Emit(models.Event{Type: models.EventRetryWarning, JobID: "j2"})

	select {
	case evt := <-alerts.Events():
		if evt.JobID != "j2" {
			t.Errorf("unexpected job id %s", evt.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected alerts subscriber to receive retry:warning")
	}
}

func TestSubscribeAll_ReceivesEverything(t *testing.T) {
	bus := events.New()
	all := bus.Subscribe(events.ChannelAll)
	defer all.Unsubscribe()

	bus.Emit(models.Event{Type: models.EventJobCreated})
	bus.Emit(models.Event{Type: models.EventRetryWarning})

	for i := 0; i < 2; i++ {
		select {
		case <-all.Events():
		case <-time.After(time.Second):
			t.Fatalf("expected %d events, only received %d", 2, i)
		}
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe(events.ChannelScans)
	sub.Unsubscribe()

	_, ok := <-sub.Events()
	if ok {
		t.Error("expected subscription channel to be closed after Unsubscribe")
	}
}

func TestPublish_DropsWhenBufferFull(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe(events.ChannelScans)
	defer sub.Unsubscribe()

	// Flood well past the subscriber buffer without ever reading.
	for i := 0; i < 200; i++ {
		bus.Emit(models.Event{Type: models.EventJobProgress})
	}

	if bus.Dropped(events.ChannelScans) == 0 {
		t.Error("expected some events to be dropped once the subscriber buffer filled")
	}
}
