package reconcile

import (
	"sync"

	"courseledger/internal/application/index"
)

// overlay is one local patch. prev is the exact state the patch replaced,
// restored on rollback.
type overlay[T any] struct {
	token   uint64
	value   T
	pending Pending
	handle  string
	// floor is the ledger version that confirmed the value; zero while
	// unconfirmed. The overlay is dropped once the index reaches it.
	floor uint64
	prev  *overlay[T]
}

type patch struct {
	key   Key
	token uint64
}

// ViewStore holds optimistic overlays for one projection type. Reads merge
// the overlay with the index view; they never take the mutation lock.
type ViewStore[T any] struct {
	mu      sync.Mutex
	entries map[Key]*overlay[T]
	seq     uint64
}

func NewViewStore[T any]() *ViewStore[T] {
	return &ViewStore[T]{entries: make(map[Key]*overlay[T])}
}

// Resolve merges the overlay for key with an index view. Confirmed
// overlays that the index has caught up with are pruned here.
func (s *ViewStore[T]) Resolve(key Key, v index.View[T]) Projection[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	top, ok := s.entries[key]
	if ok && covered(top, v.VersionMarker) && !v.Degraded {
		delete(s.entries, key)
		ok = false
	}
	if !ok {
		return FromView(v)
	}
	return top.projection()
}

// Prune drops a confirmed overlay once the index reports version.
func (s *ViewStore[T]) Prune(key Key, version uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	top, ok := s.entries[key]
	if !ok || !covered(top, version) {
		return false
	}
	delete(s.entries, key)
	return true
}

// Len returns the number of keys with an overlay.
func (s *ViewStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func covered[T any](o *overlay[T], version uint64) bool {
	if o.floor == 0 || version < o.floor {
		return false
	}
	return o.pending == PendingNone || o.pending == PendingIndexLag
}

func (o *overlay[T]) projection() Projection[T] {
	p := Projection[T]{
		Value:         o.value,
		Freshness:     FreshnessOptimistic,
		Pending:       o.pending,
		VersionMarker: o.floor,
		Handle:        o.handle,
	}
	if o.floor > 0 {
		p.Freshness = FreshnessConfirmed
	}
	return p
}

func (s *ViewStore[T]) push(key Key, value T) *patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.entries[key] = &overlay[T]{
		token:   s.seq,
		value:   value,
		pending: PendingSubmitted,
		prev:    s.entries[key],
	}
	return &patch{key: key, token: s.seq}
}

// findLocked returns the overlay for p and its successor in the chain, nil
// when p is on top.
func (s *ViewStore[T]) findLocked(p *patch) (o, next *overlay[T]) {
	for cur := s.entries[p.key]; cur != nil; next, cur = cur, cur.prev {
		if cur.token == p.token {
			return cur, next
		}
	}
	return nil, nil
}

// rollback removes the patch and restores what it replaced. Patches pushed
// on top of it keep their place.
func (s *ViewStore[T]) rollback(p *patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, next := s.findLocked(p)
	switch {
	case o == nil:
		return
	case next != nil:
		next.prev = o.prev
	case o.prev != nil:
		s.entries[p.key] = o.prev
	default:
		delete(s.entries, p.key)
	}
}

func (s *ViewStore[T]) mark(p *patch, pending Pending, handle string, floor uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, _ := s.findLocked(p); o != nil {
		o.pending = pending
		o.handle = handle
		if floor > 0 {
			o.floor = floor
		}
	}
}

// settle replaces the patch with the authoritative value. Once settled on
// top, older patches can no longer be restored.
func (s *ViewStore[T]) settle(p *patch, value T, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, next := s.findLocked(p)
	if o == nil {
		return
	}
	o.value = value
	o.pending = PendingNone
	o.floor = max(o.floor, version)
	if next == nil {
		o.prev = nil
	}
}

func (s *ViewStore[T]) lookup(p *patch) (Projection[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, _ := s.findLocked(p)
	if o == nil {
		return Projection[T]{}, false
	}
	return o.projection(), true
}
