// Package store keeps the named recordings: an in-memory index mirrored
// onto a durable backend, one record per name.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/w1xm/servo_interface/recording"
	"github.com/w1xm/servo_interface/servo"
)

// Entry is one durable record as read from a backend. Err is set when the
// record could not be read at all.
type Entry struct {
	Name string
	Data []byte
	Err  error
}

// Backend is durable storage for encoded recordings.
type Backend interface {
	// Scan returns every record. A failure affecting a single record is
	// reported in that Entry; the error return is for failures that
	// prevent scanning at all.
	Scan() ([]Entry, error)
	// Put creates or replaces a record.
	Put(name string, data []byte) error
	// Remove deletes a record. Removing a missing record returns an error
	// matching fs.ErrNotExist.
	Remove(name string) error
	Close() error
}

// Watcher is implemented by backends that can report external changes.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

type Store struct {
	backend Backend

	mu   sync.RWMutex
	recs map[string][]recording.Event
}

func New(backend Backend) *Store {
	return &Store{backend: backend, recs: make(map[string][]recording.Event)}
}

// ValidateName rejects names that cannot be stored as a single record.
func ValidateName(name string) error {
	switch {
	case name == "":
		return servo.Invalid(servo.ErrEmptyName, "")
	case name == "." || name == "..",
		strings.ContainsAny(name, "/\\\x00"),
		strings.HasPrefix(name, "."):
		return servo.Invalid(servo.ErrInvalidName, name)
	}
	return nil
}

// LoadAll replaces the index with the contents of the backend. Records that
// cannot be read or parsed are skipped; each one produces a
// *servo.StorageError in the returned slice.
func (s *Store) LoadAll() []error {
	entries, err := s.backend.Scan()
	if err != nil {
		return []error{&servo.StorageError{Op: "scan", Err: err}}
	}
	var problems []error
	recs := make(map[string][]recording.Event, len(entries))
	for _, e := range entries {
		if e.Err != nil {
			problems = append(problems, &servo.StorageError{Op: "load", Name: e.Name, Err: e.Err})
			continue
		}
		events, err := recording.Unmarshal(e.Data)
		if err != nil {
			problems = append(problems, &servo.StorageError{Op: "load", Name: e.Name, Err: err})
			continue
		}
		recs[e.Name] = events
	}
	s.mu.Lock()
	s.recs = recs
	s.mu.Unlock()
	return problems
}

// Save stores events under name, replacing any recording of that name. The
// durable write happens first; memory is only updated if it succeeds.
func (s *Store) Save(name string, events []recording.Event) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if len(events) == 0 {
		return servo.Invalid(servo.ErrEmptyRecording, name)
	}
	data, err := recording.Marshal(events)
	if err != nil {
		return &servo.StorageError{Op: "save", Name: name, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Put(name, data); err != nil {
		return &servo.StorageError{Op: "save", Name: name, Err: err}
	}
	s.recs[name] = append([]recording.Event(nil), events...)
	return nil
}

// Delete removes name from memory and from the backend.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[name]; !ok {
		return servo.Invalid(servo.ErrUnknownRecording, name)
	}
	if err := s.backend.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &servo.StorageError{Op: "delete", Name: name, Err: err}
	}
	delete(s.recs, name)
	return nil
}

// List returns the recording names in lexicographic order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.recs))
	for name := range s.recs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of the named recording.
func (s *Store) Get(name string) ([]recording.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events, ok := s.recs[name]
	if !ok {
		return nil, false
	}
	return append([]recording.Event(nil), events...), true
}

// Watch calls onChange after the backend changes outside this store. It
// blocks until ctx ends.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	w, ok := s.backend.(Watcher)
	if !ok {
		return fmt.Errorf("%T does not support watching", s.backend)
	}
	return w.Watch(ctx, onChange)
}

func (s *Store) Close() error {
	return s.backend.Close()
}
