// Package cache holds the locally known state of matches and notifies
// subscribers when an entry changes.
package cache

import (
	"sort"
	"sync"

	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
)

// All subscribes to changes of every match.
const All = "*"

// State describes what is known about a match id.
type State int

const (
	// StateLoading means the id has never been resolved.
	StateLoading State = iota
	// StatePresent means the entry holds a full match.
	StatePresent
	// StateAbsent means the data store reported the match as missing.
	StateAbsent
)

func (s State) String() string {
	switch s {
	case StatePresent:
		return "present"
	case StateAbsent:
		return "absent"
	default:
		return "loading"
	}
}

// Entry is the cached state of one match id.
type Entry struct {
	State State
	Match matches.Match
}

// Listener receives the new entry after an accepted change.
type Listener func(id string, entry Entry)

// Cache keeps a thread-safe view of matches keyed by id. Entries are only
// ever replaced whole.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	loaded  bool

	// last revision seen for ids that are now absent
	tombstones map[string]int64

	subsMu  sync.Mutex
	subs    map[string]map[uint64]Listener
	nextSub uint64
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{
		entries:    make(map[string]Entry),
		tombstones: make(map[string]int64),
		subs:       make(map[string]map[uint64]Listener),
	}
}

// Get returns the match when it is present.
func (c *Cache) Get(id string) (matches.Match, bool) {
	entry := c.Lookup(id)
	if entry.State != StatePresent {
		return matches.Match{}, false
	}
	return entry.Match, true
}

// Lookup returns the entry for id, StateLoading when unknown.
func (c *Cache) Lookup(id string) Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id]
}

// Replace overwrites the entry for m.ID. It returns false without notifying
// when the incoming revision is older than the cached one.
func (c *Cache) Replace(m matches.Match) bool {
	if m.ID == "" {
		return false
	}
	c.mu.Lock()
	accepted := c.replaceLocked(m)
	c.mu.Unlock()

	if accepted {
		c.notify(m.ID, Entry{State: StatePresent, Match: m})
	}
	return accepted
}

// MarkAbsent records that id no longer exists in the data store. The last
// known revision is kept so older snapshots cannot bring the match back.
func (c *Cache) MarkAbsent(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.markAbsentLocked(id)
	c.mu.Unlock()

	c.notify(id, Entry{State: StateAbsent})
}

// ReplaceAll reloads the collection. Previously present ids missing from ms
// become absent. Each match goes through the same revision check as Replace.
func (c *Cache) ReplaceAll(ms []matches.Match) {
	changed := make(map[string]Entry, len(ms))

	c.mu.Lock()
	seen := make(map[string]struct{}, len(ms))
	for _, m := range ms {
		if m.ID == "" {
			continue
		}
		seen[m.ID] = struct{}{}
		if c.replaceLocked(m) {
			changed[m.ID] = Entry{State: StatePresent, Match: m}
		}
	}
	for id, entry := range c.entries {
		if _, ok := seen[id]; ok || entry.State != StatePresent {
			continue
		}
		c.markAbsentLocked(id)
		changed[id] = Entry{State: StateAbsent}
	}
	c.loaded = true
	c.mu.Unlock()

	ids := make([]string, 0, len(changed))
	for id := range changed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c.notify(id, changed[id])
	}
}

// List returns present matches ordered by start time, then id.
func (c *Cache) List() []matches.Match {
	c.mu.RLock()
	result := make([]matches.Match, 0, len(c.entries))
	for _, entry := range c.entries {
		if entry.State == StatePresent {
			result = append(result, entry.Match)
		}
	}
	c.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.Before(result[j].StartTime)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// CollectionLoaded reports whether ReplaceAll has run at least once.
func (c *Cache) CollectionLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Subscribe registers fn for changes to id, or to every id when id is All.
// Listeners run synchronously on the goroutine that made the change, after
// the cache lock is released. The returned func cancels the subscription.
func (c *Cache) Subscribe(id string, fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	c.subsMu.Lock()
	c.nextSub++
	key := c.nextSub
	if c.subs[id] == nil {
		c.subs[id] = make(map[uint64]Listener)
	}
	c.subs[id][key] = fn
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs[id], key)
			if len(c.subs[id]) == 0 {
				delete(c.subs, id)
			}
			c.subsMu.Unlock()
		})
	}
}

func (c *Cache) replaceLocked(m matches.Match) bool {
	if floor := c.revisionLocked(m.ID); floor > 0 && m.Revision > 0 && m.Revision < floor {
		return false
	}
	c.entries[m.ID] = Entry{State: StatePresent, Match: m}
	delete(c.tombstones, m.ID)
	return true
}

// revisionLocked returns the newest revision known for id, present or not.
func (c *Cache) revisionLocked(id string) int64 {
	current, ok := c.entries[id]
	switch {
	case !ok:
		return 0
	case current.State == StatePresent:
		return current.Match.Revision
	case current.State == StateAbsent:
		return c.tombstones[id]
	default:
		return 0
	}
}

func (c *Cache) markAbsentLocked(id string) {
	if rev := c.revisionLocked(id); rev > 0 {
		c.tombstones[id] = rev
	}
	c.entries[id] = Entry{State: StateAbsent}
}

func (c *Cache) notify(id string, entry Entry) {
	c.subsMu.Lock()
	listeners := make([]Listener, 0, len(c.subs[id])+len(c.subs[All]))
	for _, fn := range c.subs[id] {
		listeners = append(listeners, fn)
	}
	if id != All {
		for _, fn := range c.subs[All] {
			listeners = append(listeners, fn)
		}
	}
	c.subsMu.Unlock()

	for _, fn := range listeners {
		fn(id, entry)
	}
}
