package navigation

import (
	"testing"
	"time"

	"github.com/rescale/rescale-drive/internal/events"
	"github.com/rescale/rescale-drive/internal/models"
)

func frame(id string) models.NavigationFrame {
	return models.NavigationFrame{FolderID: id, FolderName: "name-" + id}
}

func TestStack_StartsAtRoot(t *testing.T) {
	s := NewStack(nil)
	if s.Current() != "" {
		t.Errorf("Expected root, got %q", s.Current())
	}
	if s.Page() != 1 {
		t.Errorf("Expected page 1, got %d", s.Page())
	}
	if s.Pop() {
		t.Error("Pop at root should return false")
	}
}

func TestStack_MutationsResetPage(t *testing.T) {
	s := NewStack(nil)

	s.SetPage(3)
	s.Push(frame("a"))
	if s.Page() != 1 {
		t.Errorf("Push should reset page, got %d", s.Page())
	}

	s.SetPage(4)
	s.Push(frame("b"))
	s.SetPage(2)
	if !s.Pop() {
		t.Fatal("Pop should succeed")
	}
	if s.Current() != "a" || s.Page() != 1 {
		t.Errorf("After pop: current=%q page=%d", s.Current(), s.Page())
	}

	s.SetPage(5)
	if err := s.TruncateTo(-1); err != nil {
		t.Fatalf("TruncateTo(-1) failed: %v", err)
	}
	if s.Current() != "" || s.Page() != 1 {
		t.Errorf("After truncate to root: current=%q page=%d", s.Current(), s.Page())
	}
}

func TestStack_TruncateTo(t *testing.T) {
	s := NewStack(nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		s.Push(frame(id))
	}

	if err := s.TruncateTo(1); err != nil {
		t.Fatalf("TruncateTo failed: %v", err)
	}
	frames := s.Frames()
	if len(frames) != 2 || frames[1].FolderID != "b" {
		t.Errorf("Expected [a b], got %+v", frames)
	}

	before := s.Snapshot()
	if err := s.TruncateTo(5); err == nil {
		t.Error("Expected error for out-of-range index")
	}
	if !s.IsCurrent(before) {
		t.Error("Failed truncate must not change state")
	}
	if len(s.Frames()) != 2 {
		t.Error("Failed truncate must keep frames")
	}
}

func TestStack_FramesReturnsCopy(t *testing.T) {
	s := NewStack(nil)
	s.Push(frame("a"))
	frames := s.Frames()
	frames[0].FolderID = "mutated"
	if s.Current() != "a" {
		t.Error("Frames must return a copy")
	}
}

func TestStack_StaleTokens(t *testing.T) {
	s := NewStack(nil)
	s.Push(frame("a"))
	tok := s.Snapshot()
	if tok.FolderID != "a" || tok.Page != 1 {
		t.Errorf("Unexpected token: %+v", tok)
	}
	if !s.IsCurrent(tok) {
		t.Fatal("Fresh token must be current")
	}

	s.Push(frame("b"))
	if s.IsCurrent(tok) {
		t.Error("Token must be stale after push")
	}

	tok = s.Snapshot()
	s.SetPage(2)
	if s.IsCurrent(tok) {
		t.Error("Token must be stale after page change")
	}
}

func TestStack_PublishesNavigationEvents(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventNavigationChanged)

	s := NewStack(bus)
	s.Push(frame("a"))

	select {
	case ev := <-ch:
		ne := ev.(*events.NavigationEvent)
		if ne.FolderID != "a" || ne.FolderName != "name-a" || ne.Depth != 1 || ne.Page != 1 {
			t.Errorf("Unexpected event: %+v", ne)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for navigation event")
	}
}

func TestStack_Settle(t *testing.T) {
	s := NewStack(nil)
	s.SetPage(8)
	tok := s.Snapshot()

	if !s.Settle(tok, 3) {
		t.Fatal("Settle with current token should succeed")
	}
	if s.Page() != 3 || !s.IsCurrent(tok) {
		t.Errorf("Settle must set page without invalidating the token: page=%d", s.Page())
	}

	s.Push(frame("a"))
	if s.Settle(tok, 2) {
		t.Error("Settle with stale token should fail")
	}
	if s.Page() != 1 {
		t.Errorf("Stale settle must not change page, got %d", s.Page())
	}
}
