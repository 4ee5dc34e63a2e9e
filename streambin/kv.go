package streambin

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/natsclient"
	"github.com/c360/streambank/observer"
)

// Default bucket names; overridable through config
const (
	DefaultStreamBucket   = "streambank_streams"
	DefaultObserverBucket = "streambank_observers"
)

// KVBin persists stream definitions in a NATS JetStream KV bucket. The
// bucket's create-only write gives the uniqueness guarantee: of two
// concurrent registrations for the same (id, version), exactly one wins.
type KVBin struct {
	kvStore *natsclient.KVStore
}

// NewKVBin creates a stream repository over the named bucket
func NewKVBin(ctx context.Context, client *natsclient.Client, bucket string) (*KVBin, error) {
	if client == nil {
		return nil, errors.WrapInvalid(nil, "streambin", "NewKVBin", "nats client cannot be nil")
	}
	if bucket == "" {
		bucket = DefaultStreamBucket
	}

	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Versioned stream schema definitions",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "streambin", "NewKVBin", "create KV bucket")
	}

	return &KVBin{kvStore: client.NewKVStore(kv)}, nil
}

// AddStream stores a definition using a create-only write
func (b *KVBin) AddStream(ctx context.Context, stream *observer.Stream) error {
	if stream == nil {
		return errors.WrapInvalid(nil, "streambin", "AddStream", "stream cannot be nil")
	}
	if err := checkKeySafe("streambin", "AddStream", "stream id", stream.ID); err != nil {
		return err
	}

	data, err := json.Marshal(stream)
	if err != nil {
		return errors.WrapFatal(err, "streambin", "AddStream", "marshal stream")
	}

	if _, err := b.kvStore.Create(ctx, streamKey(stream.ID, stream.Version), data); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapConflict(
				fmt.Errorf("%w: %s", errors.ErrDuplicateStream, stream.Key()),
				"streambin", "AddStream", "register stream")
		}
		return errors.WrapTransient(err, "streambin", "AddStream", "create in KV")
	}

	return nil
}

// StreamIDs returns the distinct stream identifiers in the bucket
func (b *KVBin) StreamIDs(ctx context.Context) ([]string, error) {
	keys, err := b.kvStore.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "streambin", "StreamIDs", "list KV keys")
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, key := range keys {
		id, _, ok := splitStreamKey(key)
		if !ok {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// StreamVersions returns all known versions for a stream id, ascending
func (b *KVBin) StreamVersions(ctx context.Context, streamID string) ([]int64, error) {
	if streamID == "" {
		return nil, errors.WrapInvalid(nil, "streambin", "StreamVersions", "stream id cannot be empty")
	}

	keys, err := b.kvStore.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "streambin", "StreamVersions", "list KV keys")
	}

	versions := make([]int64, 0, 4)
	prefix := streamID + keySeparator
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		id, version, ok := splitStreamKey(key)
		if ok && id == streamID {
			versions = append(versions, version)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// GetStream is an exact lookup; absence is reported via the found flag
func (b *KVBin) GetStream(ctx context.Context, streamID string, version int64) (*observer.Stream, bool, error) {
	if streamID == "" {
		return nil, false, errors.WrapInvalid(nil, "streambin", "GetStream", "stream id cannot be empty")
	}

	entry, err := b.kvStore.Get(ctx, streamKey(streamID, version))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.WrapTransient(err, "streambin", "GetStream", "get from KV")
	}

	var stream observer.Stream
	if err := json.Unmarshal(entry.Value, &stream); err != nil {
		return nil, false, errors.WrapFatal(err, "streambin", "GetStream", "unmarshal stream")
	}
	return &stream, true, nil
}

// GetLatestStream returns the definition with the greatest version
func (b *KVBin) GetLatestStream(ctx context.Context, streamID string) (*observer.Stream, bool, error) {
	versions, err := b.StreamVersions(ctx, streamID)
	if err != nil {
		return nil, false, err
	}
	if len(versions) == 0 {
		return nil, false, nil
	}
	return b.GetStream(ctx, streamID, versions[len(versions)-1])
}

// Exists checks stream existence, optionally for one exact version
func (b *KVBin) Exists(ctx context.Context, streamID string, version *int64) (bool, error) {
	if streamID == "" {
		return false, errors.WrapInvalid(nil, "streambin", "Exists", "stream id cannot be empty")
	}

	if version != nil {
		_, found, err := b.GetStream(ctx, streamID, *version)
		return found, err
	}

	versions, err := b.StreamVersions(ctx, streamID)
	if err != nil {
		return false, err
	}
	return len(versions) > 0, nil
}

// KVObserverBin persists observer definitions in a NATS JetStream KV bucket
type KVObserverBin struct {
	kvStore *natsclient.KVStore
}

// NewKVObserverBin creates an observer repository over the named bucket
func NewKVObserverBin(ctx context.Context, client *natsclient.Client, bucket string) (*KVObserverBin, error) {
	if client == nil {
		return nil, errors.WrapInvalid(nil, "streambin", "NewKVObserverBin", "nats client cannot be nil")
	}
	if bucket == "" {
		bucket = DefaultObserverBucket
	}

	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Versioned observer definitions",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "streambin", "NewKVObserverBin", "create KV bucket")
	}

	return &KVObserverBin{kvStore: client.NewKVStore(kv)}, nil
}

// AddObserver stores an observer definition using a create-only write
func (b *KVObserverBin) AddObserver(ctx context.Context, obs *observer.Observer) error {
	if obs == nil {
		return errors.WrapInvalid(nil, "streambin", "AddObserver", "observer cannot be nil")
	}
	if err := checkKeySafe("streambin", "AddObserver", "observer id", obs.ID); err != nil {
		return err
	}

	data, err := json.Marshal(obs)
	if err != nil {
		return errors.WrapFatal(err, "streambin", "AddObserver", "marshal observer")
	}

	if _, err := b.kvStore.Create(ctx, streamKey(obs.ID, obs.Version), data); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapConflict(
				fmt.Errorf("observer %s/%d already exists", obs.ID, obs.Version),
				"streambin", "AddObserver", "register observer")
		}
		return errors.WrapTransient(err, "streambin", "AddObserver", "create in KV")
	}

	return nil
}

// GetObserver is an exact (id, version) lookup
func (b *KVObserverBin) GetObserver(ctx context.Context, id string, version int64) (*observer.Observer, bool, error) {
	if id == "" {
		return nil, false, errors.WrapInvalid(nil, "streambin", "GetObserver", "observer id cannot be empty")
	}

	entry, err := b.kvStore.Get(ctx, streamKey(id, version))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.WrapTransient(err, "streambin", "GetObserver", "get from KV")
	}

	var obs observer.Observer
	if err := json.Unmarshal(entry.Value, &obs); err != nil {
		return nil, false, errors.WrapFatal(err, "streambin", "GetObserver", "unmarshal observer")
	}
	return &obs, true, nil
}

// ObserverExists reports whether any version of the observer exists
func (b *KVObserverBin) ObserverExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.WrapInvalid(nil, "streambin", "ObserverExists", "observer id cannot be empty")
	}

	keys, err := b.kvStore.Keys(ctx)
	if err != nil {
		return false, errors.WrapTransient(err, "streambin", "ObserverExists", "list KV keys")
	}

	prefix := id + keySeparator
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			if gotID, _, ok := splitStreamKey(key); ok && gotID == id {
				return true, nil
			}
		}
	}
	return false, nil
}
