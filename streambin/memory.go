package streambin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/observer"
)

// MemoryBin is an in-memory Bin. Safe for concurrent use; the single
// mutex serializes check-then-insert, so duplicate registrations cannot
// race past each other.
type MemoryBin struct {
	mu      sync.RWMutex
	streams map[string]map[int64]*observer.Stream
}

// NewMemoryBin creates an empty in-memory stream repository
func NewMemoryBin() *MemoryBin {
	return &MemoryBin{
		streams: make(map[string]map[int64]*observer.Stream),
	}
}

// AddStream stores a definition, rejecting duplicates
func (b *MemoryBin) AddStream(_ context.Context, stream *observer.Stream) error {
	if stream == nil {
		return errors.WrapInvalid(nil, "streambin", "AddStream", "stream cannot be nil")
	}
	if stream.ID == "" {
		return errors.WrapInvalid(nil, "streambin", "AddStream", "stream id cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	versions, ok := b.streams[stream.ID]
	if !ok {
		versions = make(map[int64]*observer.Stream)
		b.streams[stream.ID] = versions
	}
	if _, exists := versions[stream.Version]; exists {
		return errors.WrapConflict(
			fmt.Errorf("%w: %s", errors.ErrDuplicateStream, stream.Key()),
			"streambin", "AddStream", "register stream")
	}

	versions[stream.Version] = stream
	return nil
}

// StreamIDs returns all stream identifiers
func (b *MemoryBin) StreamIDs(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.streams))
	for id := range b.streams {
		ids = append(ids, id)
	}
	return ids, nil
}

// StreamVersions returns all known versions for a stream id, ascending
func (b *MemoryBin) StreamVersions(_ context.Context, streamID string) ([]int64, error) {
	if streamID == "" {
		return nil, errors.WrapInvalid(nil, "streambin", "StreamVersions", "stream id cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	versions := make([]int64, 0, len(b.streams[streamID]))
	for v := range b.streams[streamID] {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// GetStream is an exact lookup; absence is reported via the found flag
func (b *MemoryBin) GetStream(_ context.Context, streamID string, version int64) (*observer.Stream, bool, error) {
	if streamID == "" {
		return nil, false, errors.WrapInvalid(nil, "streambin", "GetStream", "stream id cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.streams[streamID][version]
	return s, ok, nil
}

// GetLatestStream returns the definition with the greatest version
func (b *MemoryBin) GetLatestStream(_ context.Context, streamID string) (*observer.Stream, bool, error) {
	if streamID == "" {
		return nil, false, errors.WrapInvalid(nil, "streambin", "GetLatestStream", "stream id cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var latest *observer.Stream
	for _, s := range b.streams[streamID] {
		if latest == nil || s.Version > latest.Version {
			latest = s
		}
	}
	return latest, latest != nil, nil
}

// Exists checks stream existence, optionally for one exact version
func (b *MemoryBin) Exists(_ context.Context, streamID string, version *int64) (bool, error) {
	if streamID == "" {
		return false, errors.WrapInvalid(nil, "streambin", "Exists", "stream id cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	versions, ok := b.streams[streamID]
	if !ok {
		return false, nil
	}
	if version == nil {
		return len(versions) > 0, nil
	}
	_, ok = versions[*version]
	return ok, nil
}

// MemoryObserverBin is an in-memory ObserverBin
type MemoryObserverBin struct {
	mu        sync.RWMutex
	observers map[string]map[int64]*observer.Observer
}

// NewMemoryObserverBin creates an empty in-memory observer repository
func NewMemoryObserverBin() *MemoryObserverBin {
	return &MemoryObserverBin{
		observers: make(map[string]map[int64]*observer.Observer),
	}
}

// AddObserver stores an observer definition, rejecting duplicates
func (b *MemoryObserverBin) AddObserver(_ context.Context, obs *observer.Observer) error {
	if obs == nil {
		return errors.WrapInvalid(nil, "streambin", "AddObserver", "observer cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	versions, ok := b.observers[obs.ID]
	if !ok {
		versions = make(map[int64]*observer.Observer)
		b.observers[obs.ID] = versions
	}
	if _, exists := versions[obs.Version]; exists {
		return errors.WrapConflict(
			fmt.Errorf("observer %s/%d already exists", obs.ID, obs.Version),
			"streambin", "AddObserver", "register observer")
	}

	versions[obs.Version] = obs
	return nil
}

// GetObserver is an exact (id, version) lookup
func (b *MemoryObserverBin) GetObserver(_ context.Context, id string, version int64) (*observer.Observer, bool, error) {
	if id == "" {
		return nil, false, errors.WrapInvalid(nil, "streambin", "GetObserver", "observer id cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	obs, ok := b.observers[id][version]
	return obs, ok, nil
}

// ObserverExists reports whether any version of the observer exists
func (b *MemoryObserverBin) ObserverExists(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.WrapInvalid(nil, "streambin", "ObserverExists", "observer id cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.observers[id]) > 0, nil
}
