package status

import (
	"sync"
	"time"
)

// State is the lifecycle position of a tracked entry
type State string

const (
	Pending State = "pending"
	Working State = "working"
	Done    State = "done"
	Error   State = "error"
	Info    State = "info"
)

// Entry is one key-addressed progress item. Items carries optional plain-text
// sub-items (for example the derived query list); rendering is up to the reader.
type Entry struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	State     State     `json:"state"`
	Items     []string  `json:"items,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventKind distinguishes entry changes from a full clear
type EventKind string

const (
	EventUpserted EventKind = "status"
	EventCleared  EventKind = "cleared"
)

// Event is delivered to subscribers on every change
type Event struct {
	Kind  EventKind `json:"kind"`
	Entry Entry     `json:"entry,omitempty"`
}

// Tracker is an ordered, key-addressed set of progress entries with a
// change stream. It is advisory: nothing in it ever blocks the caller.
type Tracker struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*Entry
	subs    map[int]chan Event
	nextSub int
	now     func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*Entry),
		subs:    make(map[int]chan Event),
		now:     time.Now,
	}
}

// Add creates the entry or replaces it in place, keeping its position.
func (t *Tracker) Add(id, label string, state State) {
	t.Upsert(id, func(e *Entry) {
		e.Label = label
		e.State = state
		e.Items = nil
	})
}

// Update transitions an existing entry. Unknown ids are ignored and report false.
func (t *Tracker) Update(id, label string, state State) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	e.Label = label
	e.State = state
	e.UpdatedAt = t.now()
	snapshot := clone(e)
	t.broadcastLocked(Event{Kind: EventUpserted, Entry: snapshot})
	t.mu.Unlock()
	return true
}

// Upsert applies fn to the entry with the given id, creating a Pending entry first when missing.
func (t *Tracker) Upsert(id string, fn func(*Entry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		e = &Entry{ID: id, State: Pending}
		t.entries[id] = e
		t.order = append(t.order, id)
	}
	if fn != nil {
		fn(e)
	}
	e.ID = id
	e.UpdatedAt = t.now()
	t.broadcastLocked(Event{Kind: EventUpserted, Entry: clone(e)})
}

// SetItems attaches sub-items to an entry, creating an Info entry when missing.
func (t *Tracker) SetItems(id string, items []string) {
	cp := append([]string(nil), items...)
	t.Upsert(id, func(e *Entry) {
		if e.State == Pending && e.Label == "" {
			e.State = Info
		}
		e.Items = cp
	})
}

// Clear removes every entry
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.entries = make(map[string]*Entry)
	t.broadcastLocked(Event{Kind: EventCleared})
}

// Get returns a copy of one entry
func (t *Tracker) Get(id string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return Entry{}, false
	}
	return clone(e), true
}

// Entries returns a snapshot in insertion order
func (t *Tracker) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, clone(t.entries[id]))
	}
	return out
}

// Subscribe registers a listener. Events that do not fit in the buffer are
// dropped for that subscriber. The returned func unsubscribes and closes the channel.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) broadcastLocked(ev Event) {
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func clone(e *Entry) Entry {
	cp := *e
	if e.Items != nil {
		cp.Items = append([]string(nil), e.Items...)
	}
	return cp
}
