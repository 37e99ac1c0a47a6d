// Package detector classifies freshly observed stream payloads into
// online, updated and offline transitions against the last payload seen
// for the same streamer.
package detector

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/streamnotify/internal/domain"
)

type entry struct {
	payload   domain.PlatformPayload
	fetchedAt time.Time
}

// Detector is owned by exactly one adapter goroutine and is not safe for
// concurrent use.
type Detector struct {
	platform string
	clock    clockwork.Clock
	cache    map[string]entry
}

func New(platform string, clock clockwork.Clock) *Detector {
	return &Detector{
		platform: platform,
		clock:    clock,
		cache:    make(map[string]entry),
	}
}

// Observe feeds one observation for a streamer. A nil payload means the
// platform reports the channel as not live. The returned bool is false when
// nothing notification-worthy happened.
func (d *Detector) Observe(externalID string, payload domain.PlatformPayload) (domain.StreamStatus, bool) {
	cached, known := d.cache[externalID]

	if payload == nil {
		if !known {
			return domain.StreamStatus{}, false
		}
		delete(d.cache, externalID)
		return d.status(externalID, domain.StateOffline, cached.payload, ""), true
	}

	d.cache[externalID] = entry{payload: payload, fetchedAt: d.clock.Now()}

	if !known {
		return d.status(externalID, domain.StateOnline, payload, ""), true
	}

	if cached.payload.Snapshot() == payload.Snapshot() {
		// keep the original fetchedAt so Cached reports when the current state began
		d.cache[externalID] = cached
		return domain.StreamStatus{}, false
	}

	return d.status(externalID, domain.StateUpdated, payload, cached.payload.SessionID()), true
}

// ObserveBatch runs Observe for every tracked id against one poll result.
// Ids missing from live are treated as offline. Events come out in the
// order of tracked.
func (d *Detector) ObserveBatch(tracked []string, live map[string]domain.PlatformPayload) []domain.StreamStatus {
	var events []domain.StreamStatus
	for _, id := range tracked {
		var payload domain.PlatformPayload
		if p, ok := live[id]; ok {
			payload = p
		}
		if st, changed := d.Observe(id, payload); changed {
			events = append(events, st)
		}
	}
	return events
}

// Cached returns the last live payload seen for a streamer.
func (d *Detector) Cached(externalID string) (domain.PlatformPayload, time.Time, bool) {
	e, ok := d.cache[externalID]
	if !ok {
		return nil, time.Time{}, false
	}
	return e.payload, e.fetchedAt, true
}

// Forget drops cached state without emitting anything; used when a
// streamer stops being tracked.
func (d *Detector) Forget(externalID string) {
	delete(d.cache, externalID)
}

func (d *Detector) Len() int {
	return len(d.cache)
}

func (d *Detector) status(externalID string, state domain.StreamState, payload domain.PlatformPayload, previous string) domain.StreamStatus {
	return domain.StreamStatus{
		Platform:         d.platform,
		ExternalID:       externalID,
		State:            state,
		StreamID:         payload.SessionID(),
		PreviousStreamID: previous,
		Payload:          payload,
	}
}

// Retain forgets every cached streamer not in ids.
func (d *Detector) Retain(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	for id := range d.cache {
		if _, ok := keep[id]; !ok {
			delete(d.cache, id)
		}
	}
}
