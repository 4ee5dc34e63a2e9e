package pointbin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/natsclient"
	"github.com/c360/streambank/pkg/timestamp"
)

// DefaultPointBucket is the KV bucket used when none is configured.
const DefaultPointBucket = "streambank_points"

const (
	pointKeyPrefix      = "pt/"
	attachmentKeyPrefix = "att/"
)

// KVBin persists points in a NATS JetStream KV bucket. Point keys are
// created with a create-only write, so the bucket itself enforces the
// uniqueness of (owner, stream, version, point id). Batch atomicity is
// pre-check plus rollback: a conflict discovered mid-batch deletes the
// keys already written before the error is returned.
type KVBin struct {
	kvStore *natsclient.KVStore
}

// NewKVBin creates a point repository over the named bucket
func NewKVBin(ctx context.Context, client *natsclient.Client, bucket string) (*KVBin, error) {
	if client == nil {
		return nil, errors.WrapInvalid(nil, "pointbin", "NewKVBin", "nats client cannot be nil")
	}
	if bucket == "" {
		bucket = DefaultPointBucket
	}

	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Validated stream data points",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "pointbin", "NewKVBin", "create KV bucket")
	}

	return &KVBin{kvStore: client.NewKVStore(kv)}, nil
}

func pointKey(owner, streamID string, streamVersion int64, pointID string) string {
	return pointKeyPrefix + identityKey(owner, streamID, streamVersion, pointID)
}

func attachmentKey(attachmentID string) string {
	return attachmentKeyPrefix + attachmentID
}

func checkPointKeySafe(method string, p *Point) error {
	for _, v := range []string{p.Owner, p.StreamID, p.PointID} {
		if !keySafe(v) {
			return errors.WrapInvalid(nil, "pointbin", method,
				fmt.Sprintf("%q contains characters not allowed in storage keys", v))
		}
	}
	for _, att := range p.AttachmentIDs {
		if !keySafe(att) {
			return errors.WrapInvalid(nil, "pointbin", method,
				fmt.Sprintf("attachment id %q contains characters not allowed in storage keys", att))
		}
	}
	return nil
}

// AddPoints stores the batch, rolling back on any mid-batch conflict.
func (b *KVBin) AddPoints(ctx context.Context, points []*Point) error {
	batch, err := checkBatch(points)
	if err != nil {
		return err
	}
	for _, p := range batch {
		if err := checkPointKeySafe("AddPoints", p); err != nil {
			return err
		}
	}

	// Pre-check keeps the common duplicate-resubmission case from doing
	// any writes at all; the Create below still catches races.
	for _, p := range batch {
		key := pointKey(p.Owner, p.StreamID, p.StreamVersion, p.PointID)
		if _, err := b.kvStore.Get(ctx, key); err == nil {
			return errors.WrapConflict(errors.ErrDuplicateUnit, "pointbin", "AddPoints",
				fmt.Sprintf("point %s already stored", p.PointID))
		} else if !natsclient.IsKVNotFoundError(err) {
			return errors.WrapTransient(err, "pointbin", "AddPoints", "duplicate pre-check")
		}
	}

	now := timestamp.Now()
	var created []string
	rollback := func() {
		for _, key := range created {
			_ = b.kvStore.Delete(ctx, key)
		}
	}

	for _, p := range batch {
		stored := *p
		if stored.UploadedAt == 0 {
			stored.UploadedAt = now
		}
		data, err := json.Marshal(&stored)
		if err != nil {
			rollback()
			return errors.WrapFatal(err, "pointbin", "AddPoints", "marshal point")
		}

		key := pointKey(stored.Owner, stored.StreamID, stored.StreamVersion, stored.PointID)
		if _, err := b.kvStore.Create(ctx, key, data); err != nil {
			rollback()
			if natsclient.IsKVConflictError(err) {
				return errors.WrapConflict(errors.ErrDuplicateUnit, "pointbin", "AddPoints",
					fmt.Sprintf("point %s already stored", stored.PointID))
			}
			return errors.WrapTransient(err, "pointbin", "AddPoints", "store point")
		}
		created = append(created, key)

		// Create-only, so an attachment id already owned by another point
		// is a conflict rather than a silent re-mapping
		for _, att := range stored.AttachmentIDs {
			if _, err := b.kvStore.Create(ctx, attachmentKey(att), []byte(key)); err != nil {
				rollback()
				if natsclient.IsKVConflictError(err) {
					return errors.WrapConflict(errors.ErrDuplicateUnit, "pointbin", "AddPoints",
						fmt.Sprintf("attachment %s already referenced", att))
				}
				return errors.WrapTransient(err, "pointbin", "AddPoints", "index attachment")
			}
			created = append(created, attachmentKey(att))
		}
	}
	return nil
}

// DuplicateIDs returns the candidates already stored for the owner+stream.
func (b *KVBin) DuplicateIDs(ctx context.Context, owner, streamID string, streamVersion int64, candidates []string) ([]string, error) {
	if owner == "" || streamID == "" {
		return nil, errors.WrapInvalid(nil, "pointbin", "DuplicateIDs", "owner and stream id are required")
	}
	if streamVersion < 1 {
		return nil, errors.WrapInvalid(nil, "pointbin", "DuplicateIDs", "stream version must be positive")
	}

	var dups []string
	for _, id := range candidates {
		_, err := b.kvStore.Get(ctx, pointKey(owner, streamID, streamVersion, id))
		switch {
		case err == nil:
			dups = append(dups, id)
		case natsclient.IsKVNotFoundError(err):
			// not stored
		default:
			return nil, errors.WrapTransient(err, "pointbin", "DuplicateIDs", "lookup candidate")
		}
	}
	return dups, nil
}

// Query scans the stream's key range, then filters, orders, and paginates.
func (b *KVBin) Query(ctx context.Context, params QueryParams) (*Page, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	keys, err := b.kvStore.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "pointbin", "Query", "list keys")
	}

	prefix := fmt.Sprintf("%s%s/%d/", pointKeyPrefix, params.StreamID, params.StreamVersion)
	var matches []*Point
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		p, err := b.getByKey(ctx, "Query", key)
		if err != nil {
			return nil, err
		}
		if p != nil && params.matches(p) {
			matches = append(matches, p)
		}
	}
	return buildPage(matches, &params), nil
}

// GetPoint is an exact lookup.
func (b *KVBin) GetPoint(ctx context.Context, owner, streamID string, streamVersion int64, pointID string) (*Point, bool, error) {
	if err := checkLookupArgs("GetPoint", owner, streamID, streamVersion, pointID); err != nil {
		return nil, false, err
	}

	p, err := b.getByKey(ctx, "GetPoint", pointKey(owner, streamID, streamVersion, pointID))
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, false, nil
	}
	return p, true, nil
}

// DeletePoint removes a point and its attachment index entries. Absent
// points are a no-op.
func (b *KVBin) DeletePoint(ctx context.Context, owner, streamID string, streamVersion int64, pointID string) error {
	if err := checkLookupArgs("DeletePoint", owner, streamID, streamVersion, pointID); err != nil {
		return err
	}

	key := pointKey(owner, streamID, streamVersion, pointID)
	p, err := b.getByKey(ctx, "DeletePoint", key)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}

	for _, att := range p.AttachmentIDs {
		if err := b.kvStore.Delete(ctx, attachmentKey(att)); err != nil && !natsclient.IsKVNotFoundError(err) {
			return errors.WrapTransient(err, "pointbin", "DeletePoint", "remove attachment index")
		}
	}
	if err := b.kvStore.Delete(ctx, key); err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "pointbin", "DeletePoint", "remove point")
	}
	return nil
}

// PointForAttachment resolves an attachment id via the reverse index.
func (b *KVBin) PointForAttachment(ctx context.Context, attachmentID string) (*Point, bool, error) {
	if attachmentID == "" {
		return nil, false, errors.WrapInvalid(nil, "pointbin", "PointForAttachment", "attachment id is required")
	}

	entry, err := b.kvStore.Get(ctx, attachmentKey(attachmentID))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, errors.WrapTransient(err, "pointbin", "PointForAttachment", "lookup attachment index")
	}

	p, err := b.getByKey(ctx, "PointForAttachment", string(entry.Value))
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		// Stale index entry; the point was deleted out from under it.
		return nil, false, nil
	}
	return p, true, nil
}

func (b *KVBin) getByKey(ctx context.Context, method, key string) (*Point, error) {
	entry, err := b.kvStore.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "pointbin", method, "read point")
	}
	var p Point
	if err := json.Unmarshal(entry.Value, &p); err != nil {
		return nil, errors.WrapFatal(err, "pointbin", method, "unmarshal point")
	}
	return &p, nil
}
