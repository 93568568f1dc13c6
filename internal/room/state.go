package room

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-echoroom/internal/sonar"
)

// Entry is the latest estimate for one direction
type Entry struct {
	Direction Direction      `json:"direction"`
	Estimate  sonar.Estimate `json:"estimate"`
	UpdatedAt time.Time      `json:"updated_at"`
	Updates   uint64         `json:"updates"`
}

// Snapshot is an immutable copy of the room state. Entries follow the
// configured scan order and hold exactly one entry per direction.
type Snapshot struct {
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Entries   []Entry   `json:"entries"`
}

// Get returns the entry for d
func (s Snapshot) Get(d Direction) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Direction == d {
			return e, true
		}
	}
	return Entry{}, false
}

// Meters returns the distance for d, zero when unknown
func (s Snapshot) Meters(d Direction) float64 {
	e, _ := s.Get(d)
	return e.Estimate.Meters
}

// Outline projects the snapshot onto the room plane
func (s Snapshot) Outline() Outline {
	return NewOutline(s.Meters(North), s.Meters(South), s.Meters(East), s.Meters(West))
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Entries = make([]Entry, len(s.Entries))
	copy(out.Entries, s.Entries)
	return out
}

// Reading is one recorded update
type Reading struct {
	Direction Direction      `json:"direction"`
	Estimate  sonar.Estimate `json:"estimate"`
	At        time.Time      `json:"at"`
}

// State is the shared room state. A single writer publishes new snapshots
// by atomic pointer swap; readers never take the writer's lock.
type State struct {
	current atomic.Pointer[Snapshot]

	// Writer side
	mu          sync.Mutex
	index       map[Direction]int
	history     []Reading
	historySize int

	// Subscribers for change notifications
	subsMu sync.RWMutex
	subs   map[chan Snapshot]struct{}
}

// NewState creates a state seeded with the no-signal sentinel for every
// direction in order
func NewState(order []Direction, historySize int) (*State, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("no directions configured")
	}

	s := &State{
		index:       make(map[Direction]int, len(order)),
		historySize: historySize,
		subs:        make(map[chan Snapshot]struct{}),
	}

	initial := &Snapshot{Entries: make([]Entry, 0, len(order))}
	for i, d := range order {
		if !d.Valid() {
			return nil, fmt.Errorf("invalid direction %d", int(d))
		}
		if _, dup := s.index[d]; dup {
			return nil, fmt.Errorf("direction %s listed twice", d)
		}
		s.index[d] = i
		initial.Entries = append(initial.Entries, Entry{Direction: d, Estimate: sonar.NoSignal})
	}

	s.current.Store(initial)
	return s, nil
}

// Update records a new estimate for d. Unknown directions are ignored.
func (s *State) Update(d Direction, est sonar.Estimate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[d]
	if !ok {
		return
	}

	now := time.Now()
	next := s.current.Load().clone()
	next.Version++
	next.UpdatedAt = now
	next.Entries[i] = Entry{
		Direction: d,
		Estimate:  est,
		UpdatedAt: now,
		Updates:   next.Entries[i].Updates + 1,
	}
	s.current.Store(&next)

	s.appendHistory(Reading{Direction: d, Estimate: est, At: now})
	s.notifySubscribers(next)
}

func (s *State) appendHistory(r Reading) {
	if s.historySize <= 0 {
		return
	}

	s.history = append(s.history, r)

	// Shift instead of reslicing so the backing array does not grow forever
	if len(s.history) > s.historySize {
		copy(s.history, s.history[1:])
		s.history = s.history[:s.historySize]
	}
}

func (s *State) notifySubscribers(snap Snapshot) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- snap.clone():
		default:
			// Drop if subscriber is slow
		}
	}
}

// Snapshot returns a read-only copy of the current state. It never blocks
// on the writer.
func (s *State) Snapshot() Snapshot {
	return s.current.Load().clone()
}

// History returns a copy of the recorded updates, oldest first
func (s *State) History() []Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Reading, len(s.history))
	copy(out, s.history)
	return out
}

// Subscribe returns a channel that receives a snapshot after every update
func (s *State) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 8)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	return ch
}

// Unsubscribe removes and closes a subscriber channel
func (s *State) Unsubscribe(ch chan Snapshot) {
	s.subsMu.Lock()
	if _, exists := s.subs[ch]; exists {
		delete(s.subs, ch)
		close(ch)
	}
	s.subsMu.Unlock()
}

// SubscriberCount returns the number of active subscribers
func (s *State) SubscriberCount() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs)
}
