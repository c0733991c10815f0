// scheduler.go
//
// Real-time collaborative mind-map sync service.
// Copyright (c) 2026 the mindmesh authors
//
// This file is part of mindmesh.
// mindmesh is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// mindmesh is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with mindmesh.
// If not, see <https://www.gnu.org/licenses/>.

package sync

import (
	"context"
	"sync"
	"time"
)

// StoreSaveDebounce is the window after the last change to an entity before
// its durable save executes.
const StoreSaveDebounce = 500 * time.Millisecond

// EntityKind namespaces scheduler keys so a node and an edge sharing an id
// never coalesce.
type EntityKind string

const (
	KindNode EntityKind = "node"
	KindEdge EntityKind = "edge"
)

// SaveKey identifies one debounced persistence slot.
type SaveKey struct {
	Kind EntityKind
	ID   string
}

// SaveFunc performs the durable write for a key. It must read the current
// in-memory entity state at call time, not captured state: the scheduler
// guarantees last-write-wins per key by construction only if the save reads
// fresh state.
type SaveFunc func(ctx context.Context, key SaveKey) error

// ErrorFunc receives save failures. The optimistic edit is preserved; only
// the error surfaces.
type ErrorFunc func(key SaveKey, err error)

// Scheduler coalesces repeated save requests for the same key within the
// debounce window into one durable write. Keys debounce independently:
// scheduling key A never delays or cancels a pending save for key B.
//
// An existing timer for a key is cancelled and replaced on re-schedule; the
// discarded invocation never executes. This is the whole cancellation model.
type Scheduler struct {
	mu        sync.Mutex
	window    time.Duration
	save      SaveFunc
	onError   ErrorFunc
	timers    map[SaveKey]*time.Timer
	gens      map[SaveKey]uint64
	loading   map[SaveKey]bool
	lastSaved map[SaveKey]time.Time
	inflight  sync.WaitGroup
	stopped   bool
}

// NewScheduler builds a scheduler firing save after window of quiet per key.
// onError may be nil.
func NewScheduler(window time.Duration, save SaveFunc, onError ErrorFunc) *Scheduler {
	if onError == nil {
		onError = func(SaveKey, error) {}
	}
	return &Scheduler{
		window:    window,
		save:      save,
		onError:   onError,
		timers:    make(map[SaveKey]*time.Timer),
		gens:      make(map[SaveKey]uint64),
		loading:   make(map[SaveKey]bool),
		lastSaved: make(map[SaveKey]time.Time),
	}
}

// Schedule arms (or re-arms) the debounce timer for key. Each arm bumps the
// key's generation; a timer whose Stop raced its own firing finds a newer
// generation in fire and yields, so the superseded invocation never runs.
func (s *Scheduler) Schedule(key SaveKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.gens[key]++
	gen := s.gens[key]
	s.timers[key] = time.AfterFunc(s.window, func() {
		s.fire(key, gen)
	})
}

// Loading reports whether a save for key is currently executing.
func (s *Scheduler) Loading(key SaveKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[key]
}

// Pending reports whether a save for key is scheduled but not yet fired.
func (s *Scheduler) Pending(key SaveKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// LastSaved returns the timestamp of the key's last successful save.
func (s *Scheduler) LastSaved(key SaveKey) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSaved[key]
	return t, ok
}

// Flush fires every pending save immediately and waits for completion.
// Used on disconnect so no pending edit is lost with the session.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	keys := make([]SaveKey, 0, len(s.timers))
	for key, t := range s.timers {
		if t.Stop() {
			keys = append(keys, key)
		}
		delete(s.timers, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.run(key)
	}
	s.inflight.Wait()
}

// Stop cancels every pending timer and waits for in-flight saves. The
// scheduler accepts no further work afterward.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	s.inflight.Wait()
}

// fire is the timer callback: detach the timer slot, then execute. A stale
// generation means Schedule re-armed the key after this timer had already
// fired past its Stop; the re-armed timer owns the save now.
func (s *Scheduler) fire(key SaveKey, gen uint64) {
	s.mu.Lock()
	if s.stopped || s.gens[key] != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()
	s.run(key)
}

func (s *Scheduler) run(key SaveKey) {
	s.mu.Lock()
	s.loading[key] = true
	s.mu.Unlock()

	err := s.save(context.Background(), key)

	s.mu.Lock()
	s.loading[key] = false
	if err == nil {
		s.lastSaved[key] = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		s.onError(key, err)
	}
}
