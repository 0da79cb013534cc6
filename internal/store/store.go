// Package store holds the canonical in-memory event list. Nothing is
// persisted; ICS-backed events are re-imported on every refresh.
package store

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// Store is safe for concurrent use. Events are always kept sorted by start
// time, then ID.
type Store struct {
	mu     sync.RWMutex
	events []model.Event
	newID  func() string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the default random UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates in and appends a new event.
func (s *Store) Create(in model.EventInput) (model.Event, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return model.Event{}, err
	}

	ev := model.Event{
		ID:          s.newID(),
		Title:       in.Title,
		Description: in.Description,
		Start:       in.Start,
		End:         in.End,
		Color:       in.Color,
		Category:    in.Category,
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	model.SortByStart(s.events)
	s.mu.Unlock()

	appLog.Debug("event created", "id", ev.ID, "start", ev.Start, "end", ev.End)
	return ev, nil
}

// Update applies patch to the event with the given ID. The merged event must
// still validate.
func (s *Store) Update(id string, patch model.EventPatch) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return model.Event{}, fmt.Errorf("update %s: %w", id, model.ErrNotFound)
	}

	updated := patch.Apply(s.events[idx])
	if err := updated.Validate(); err != nil {
		return model.Event{}, err
	}

	s.events[idx] = updated
	model.SortByStart(s.events)

	appLog.Debug("event updated", "id", id)
	return updated, nil
}

// Delete removes the event with the given ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("delete %s: %w", id, model.ErrNotFound)
	}
	s.events = slices.Delete(s.events, idx, idx+1)

	appLog.Debug("event deleted", "id", id)
	return nil
}

// Get returns the event with the given ID.
func (s *Store) Get(id string) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return model.Event{}, false
	}
	return s.events[idx], true
}

// List returns a copy of all events in start order.
func (s *Store) List() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// ReplaceSource drops every event imported from sourceID and adds events in
// its place. Events that fail validation are skipped and counted.
func (s *Store) ReplaceSource(sourceID string, events []model.Event) (skipped int) {
	incoming := make([]model.Event, 0, len(events))
	for _, ev := range events {
		ev.SourceID = sourceID
		if err := ev.Validate(); err != nil {
			appLog.Debug("skipping invalid imported event", "source", sourceID, "uid", ev.UID, "reason", err.Error())
			skipped++
			continue
		}
		incoming = append(incoming, ev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0:0]
	for _, ev := range s.events {
		if ev.SourceID != sourceID {
			kept = append(kept, ev)
		}
	}
	kept = append(kept, incoming...)
	model.SortByStart(kept)
	s.events = kept

	return skipped
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.events, func(ev model.Event) bool {
		return ev.ID == id
	})
}
