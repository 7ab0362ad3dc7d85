// Package navigation holds the breadcrumb stack of opened folders and the
// current page, and hands out generation tokens so that listing results
// which resolve after a newer navigation can be recognised and dropped.
package navigation

import (
	"fmt"
	"sync"
	"time"

	"github.com/rescale/rescale-drive/internal/events"
	"github.com/rescale/rescale-drive/internal/models"
)

// Token identifies the navigation state a listing request was issued for.
type Token struct {
	Generation uint64
	FolderID   string
	Page       int
}

// Stack is the folder breadcrumb. The empty stack is the root folder.
type Stack struct {
	mu         sync.RWMutex
	frames     []models.NavigationFrame
	page       int
	generation uint64
	eventBus   *events.EventBus
}

// NewStack creates a stack positioned at the root, page 1.
func NewStack(eventBus *events.EventBus) *Stack {
	return &Stack{page: 1, eventBus: eventBus}
}

// Push opens a child folder.
func (s *Stack) Push(frame models.NavigationFrame) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	ev := s.mutateLocked()
	s.mu.Unlock()
	s.eventBus.Publish(ev)
}

// TruncateTo keeps frames [0..index]. Index -1 returns to the root.
func (s *Stack) TruncateTo(index int) error {
	s.mu.Lock()
	if index < -1 || index >= len(s.frames) {
		n := len(s.frames)
		s.mu.Unlock()
		return fmt.Errorf("breadcrumb index %d out of range [-1, %d)", index, n)
	}
	s.frames = s.frames[:index+1]
	ev := s.mutateLocked()
	s.mu.Unlock()
	s.eventBus.Publish(ev)
	return nil
}

// Pop goes back one level. It returns false at the root, where nothing changes.
func (s *Stack) Pop() bool {
	s.mu.Lock()
	if len(s.frames) == 0 {
		s.mu.Unlock()
		return false
	}
	s.frames = s.frames[:len(s.frames)-1]
	ev := s.mutateLocked()
	s.mu.Unlock()
	s.eventBus.Publish(ev)
	return true
}

// SetPage moves to page n of the current folder (n < 1 is clamped to 1).
func (s *Stack) SetPage(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.page = n
	s.generation++
	ev := s.eventLocked()
	s.mu.Unlock()
	s.eventBus.Publish(ev)
}

// mutateLocked resets the page and bumps the generation. Requires s.mu held.
func (s *Stack) mutateLocked() *events.NavigationEvent {
	s.page = 1
	s.generation++
	return s.eventLocked()
}

func (s *Stack) eventLocked() *events.NavigationEvent {
	folderID, folderName := s.currentLocked()
	return &events.NavigationEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventNavigationChanged, Time: time.Now()},
		FolderID:   folderID,
		FolderName: folderName,
		Depth:      len(s.frames),
		Page:       s.page,
		Generation: s.generation,
	}
}

func (s *Stack) currentLocked() (string, string) {
	if len(s.frames) == 0 {
		return "", ""
	}
	top := s.frames[len(s.frames)-1]
	return top.FolderID, top.FolderName
}

// Current returns the active folder ID ("" for root).
func (s *Stack) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, _ := s.currentLocked()
	return id
}

// Frames returns a copy of the breadcrumb, root excluded.
func (s *Stack) Frames() []models.NavigationFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.NavigationFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Page returns the current page number.
func (s *Stack) Page() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// Snapshot captures the state a listing request is about to be issued for.
func (s *Stack) Snapshot() Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, _ := s.currentLocked()
	return Token{Generation: s.generation, FolderID: id, Page: s.page}
}

// IsCurrent reports whether no navigation happened since t was taken.
func (s *Stack) IsCurrent(t Token) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return t.Generation == s.generation
}

// Settle corrects the page number of a still-current token, without bumping
// the generation, when the folder turned out to be shorter than requested.
func (s *Stack) Settle(t Token, page int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Generation != s.generation {
		return false
	}
	s.page = page
	return true
}
