package streambin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/observer"
)

// Bin is the repository of stream definitions. Lookups report absence with
// a false found-flag rather than an error; callers must be able to tell
// "doesn't exist" apart from "exists but unreadable".
type Bin interface {
	// AddStream stores a definition. Fails with errors.ErrDuplicateStream
	// when the (id, version) pair already exists; it never overwrites.
	AddStream(ctx context.Context, stream *observer.Stream) error

	// StreamIDs returns all stream identifiers in the repository, in no
	// particular order.
	StreamIDs(ctx context.Context) ([]string, error)

	// StreamVersions returns all known versions for a stream id, ascending.
	// An empty id fails with errors.ErrInvalidArgument; an unknown id
	// yields an empty slice.
	StreamVersions(ctx context.Context, streamID string) ([]int64, error)

	// GetStream is an exact (id, version) lookup.
	GetStream(ctx context.Context, streamID string, version int64) (*observer.Stream, bool, error)

	// GetLatestStream returns the definition with the numerically greatest
	// version for the id.
	GetLatestStream(ctx context.Context, streamID string) (*observer.Stream, bool, error)

	// Exists reports whether any version of the stream exists (version nil)
	// or whether the exact version exists.
	Exists(ctx context.Context, streamID string, version *int64) (bool, error)
}

// ObserverBin is the repository of observer definitions, with the same
// write-once semantics per (id, version).
type ObserverBin interface {
	AddObserver(ctx context.Context, obs *observer.Observer) error
	GetObserver(ctx context.Context, id string, version int64) (*observer.Observer, bool, error)
	ObserverExists(ctx context.Context, id string) (bool, error)
}

// Interface conformance checks
var (
	_ Bin         = (*MemoryBin)(nil)
	_ Bin         = (*KVBin)(nil)
	_ ObserverBin = (*MemoryObserverBin)(nil)
	_ ObserverBin = (*KVObserverBin)(nil)
)

// keySeparator joins key segments inside a KV bucket. Identifiers are
// restricted to the key-safe charset, so the separator cannot appear
// inside a segment.
const keySeparator = "/"

// keySafe reports whether an identifier can be embedded in a KV key
// without ambiguity.
func keySafe(segment string) bool {
	if segment == "" {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-' || r == '=':
		default:
			return false
		}
	}
	return true
}

func checkKeySafe(component, method, name, segment string) error {
	if !keySafe(segment) {
		return errors.WrapInvalid(
			fmt.Errorf("%s %q", name, segment),
			component, method, fmt.Sprintf("%s contains characters not allowed in identifiers", name))
	}
	return nil
}

// streamKey builds the bucket key for a stream definition
func streamKey(id string, version int64) string {
	return id + keySeparator + strconv.FormatInt(version, 10)
}

// splitStreamKey reverses streamKey. The version is always the final
// segment, so identifiers containing the separator charset stay parseable.
func splitStreamKey(key string) (string, int64, bool) {
	idx := strings.LastIndex(key, keySeparator)
	if idx <= 0 || idx == len(key)-1 {
		return "", 0, false
	}
	version, err := strconv.ParseInt(key[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key[:idx], version, true
}
