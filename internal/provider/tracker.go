package provider

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pscheid92/streamnotify/internal/domain"
)

// Tracker is an adapter's set of tracked streamers.
type Tracker struct {
	mu   sync.RWMutex
	refs map[string]domain.StreamerRef
}

func NewTracker() *Tracker {
	return &Tracker{refs: make(map[string]domain.StreamerRef)}
}

func (t *Tracker) Add(ref domain.StreamerRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.refs[ref.ExternalID]; ok {
		return fmt.Errorf("%s: %w", ref.Key(), domain.ErrAlreadyTracked)
	}
	t.refs[ref.ExternalID] = ref
	return nil
}

func (t *Tracker) Remove(externalID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.refs[externalID]; !ok {
		return fmt.Errorf("%s: %w", externalID, domain.ErrNotTracked)
	}
	delete(t.refs, externalID)
	return nil
}

func (t *Tracker) Has(externalID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.refs[externalID]
	return ok
}

func (t *Tracker) Get(externalID string) (domain.StreamerRef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ref, ok := t.refs[externalID]
	return ref, ok
}

// Rename records a display name change observed by the adapter.
func (t *Tracker) Rename(externalID, displayName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ref, ok := t.refs[externalID]; ok {
		ref.DisplayName = displayName
		t.refs[externalID] = ref
	}
}

// IDs returns the tracked ids in sorted order.
func (t *Tracker) IDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.refs))
	for id := range t.refs {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.refs)
}
