package events

import (
	"testing"
	"time"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	bus.Publish(&TransferEvent{
		BaseEvent: BaseEvent{EventType: EventTransferProgress, Time: time.Now()},
		TaskID:    "task-1",
		TaskKind:  "archive",
		Progress:  50,
	})

	select {
	case received := <-ch:
		te, ok := received.(*TransferEvent)
		if !ok {
			t.Fatal("Expected TransferEvent")
		}
		if te.TaskID != "task-1" {
			t.Errorf("Expected task ID 'task-1', got '%s'", te.TaskID)
		}
		if te.Progress != 50 {
			t.Errorf("Expected progress 50, got %d", te.Progress)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_SubscribeAllReceivesEveryType(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	all := bus.SubscribeAll()

	bus.PublishLog(WarnLevel, "skipped entry", "flatten", nil)
	bus.Publish(&NavigationEvent{
		BaseEvent: BaseEvent{EventType: EventNavigationChanged, Time: time.Now()},
		FolderID:  "f1",
		Page:      1,
	})

	got := make([]EventType, 0, 2)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all:
			got = append(got, ev.Type())
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for event %d", i)
		}
	}
	if got[0] != EventLog || got[1] != EventNavigationChanged {
		t.Errorf("Unexpected event order: %v", got)
	}
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	_ = bus.Subscribe(EventLog)
	for i := 0; i < 3; i++ {
		bus.PublishLog(InfoLevel, "msg", "", nil)
	}

	if dropped := bus.GetDroppedEventCount(); dropped != 2 {
		t.Errorf("Expected 2 dropped events, got %d", dropped)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventCacheInvalidated)
	bus.Unsubscribe(EventCacheInvalidated, ch)

	bus.Publish(&ListingEvent{
		BaseEvent: BaseEvent{EventType: EventCacheInvalidated, Time: time.Now()},
		FolderID:  "root",
	})

	select {
	case <-ch:
		t.Error("Unsubscribed channel should not receive events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_ClosedBusReturnsClosedChannel(t *testing.T) {
	bus := NewEventBus(10)
	bus.Close()

	ch := bus.Subscribe(EventLog)
	if _, ok := <-ch; ok {
		t.Error("Expected closed channel from closed bus")
	}

	// Publishing after close must not panic
	bus.PublishLog(ErrorLevel, "late", "", nil)
}

func TestEventBus_NilBusPublishIsNoop(t *testing.T) {
	var bus *EventBus
	bus.PublishLog(InfoLevel, "ignored", "", nil)
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
