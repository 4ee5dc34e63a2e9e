package streambin

import (
	"context"

	"github.com/c360/streambank/observer"
	"github.com/c360/streambank/pkg/cache"
)

// DefaultCacheSize bounds the number of stream definitions a CachedBin
// keeps in memory.
const DefaultCacheSize = 256

// CachedBin wraps a Bin with an in-memory LRU for definition lookups.
// Definitions are write-once, so exact (id, version) entries never go
// stale; latest-version entries are invalidated when a new version of the
// stream is added through this wrapper.
type CachedBin struct {
	inner   Bin
	streams *cache.LRU[*observer.Stream]
	latest  *cache.LRU[*observer.Stream]
}

var _ Bin = (*CachedBin)(nil)

// NewCachedBin wraps inner with lookup caches of the given size. A size
// below 1 falls back to DefaultCacheSize.
func NewCachedBin(inner Bin, size int) *CachedBin {
	if size < 1 {
		size = DefaultCacheSize
	}
	return &CachedBin{
		inner:   inner,
		streams: cache.New[*observer.Stream](size),
		latest:  cache.New[*observer.Stream](size),
	}
}

// AddStream stores the definition and invalidates the cached latest
// version for the stream id.
func (b *CachedBin) AddStream(ctx context.Context, stream *observer.Stream) error {
	if err := b.inner.AddStream(ctx, stream); err != nil {
		return err
	}
	b.streams.Put(streamKey(stream.ID, stream.Version), stream)
	b.latest.Delete(stream.ID)
	return nil
}

// StreamIDs delegates to the wrapped repository
func (b *CachedBin) StreamIDs(ctx context.Context) ([]string, error) {
	return b.inner.StreamIDs(ctx)
}

// StreamVersions delegates to the wrapped repository
func (b *CachedBin) StreamVersions(ctx context.Context, streamID string) ([]int64, error) {
	return b.inner.StreamVersions(ctx, streamID)
}

// GetStream serves exact lookups from the cache when possible
func (b *CachedBin) GetStream(ctx context.Context, streamID string, version int64) (*observer.Stream, bool, error) {
	key := streamKey(streamID, version)
	if stream, ok := b.streams.Get(key); ok {
		return stream, true, nil
	}

	stream, found, err := b.inner.GetStream(ctx, streamID, version)
	if err != nil || !found {
		return stream, found, err
	}
	b.streams.Put(key, stream)
	return stream, true, nil
}

// GetLatestStream serves latest-version lookups from the cache when possible
func (b *CachedBin) GetLatestStream(ctx context.Context, streamID string) (*observer.Stream, bool, error) {
	if stream, ok := b.latest.Get(streamID); ok {
		return stream, true, nil
	}

	stream, found, err := b.inner.GetLatestStream(ctx, streamID)
	if err != nil || !found {
		return stream, found, err
	}
	b.latest.Put(streamID, stream)
	b.streams.Put(streamKey(stream.ID, stream.Version), stream)
	return stream, true, nil
}

// Exists delegates to the wrapped repository. A cache hit on the exact
// version answers without a round trip.
func (b *CachedBin) Exists(ctx context.Context, streamID string, version *int64) (bool, error) {
	if version != nil {
		if _, ok := b.streams.Get(streamKey(streamID, *version)); ok {
			return true, nil
		}
	}
	return b.inner.Exists(ctx, streamID, version)
}

// CacheStats reports hit and miss counters for the exact-lookup cache
func (b *CachedBin) CacheStats() cache.Stats {
	return b.streams.Stats()
}
