package pointbin

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/pkg/timestamp"
)

// MemoryBin is an in-memory Bin. The single mutex serializes the
// duplicate-check-then-insert sequence, so a batch commits atomically.
type MemoryBin struct {
	mu          sync.Mutex
	points      map[string]*Point
	attachments map[string]string // attachment id -> point identity
}

// NewMemoryBin creates an empty in-memory point repository.
func NewMemoryBin() *MemoryBin {
	return &MemoryBin{
		points:      make(map[string]*Point),
		attachments: make(map[string]string),
	}
}

// AddPoints stores the batch, or nothing at all.
func (b *MemoryBin) AddPoints(_ context.Context, points []*Point) error {
	batch, err := checkBatch(points)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seenAtts := make(map[string]bool)
	for key, p := range batch {
		if _, exists := b.points[key]; exists {
			return errors.WrapConflict(errors.ErrDuplicateUnit, "pointbin", "AddPoints",
				fmt.Sprintf("point %s already stored", p.PointID))
		}
		for _, att := range p.AttachmentIDs {
			if _, exists := b.attachments[att]; exists || seenAtts[att] {
				return errors.WrapConflict(errors.ErrDuplicateUnit, "pointbin", "AddPoints",
					fmt.Sprintf("attachment %s already referenced", att))
			}
			seenAtts[att] = true
		}
	}

	now := timestamp.Now()
	for key, p := range batch {
		stored := *p
		if stored.UploadedAt == 0 {
			stored.UploadedAt = now
		}
		b.points[key] = &stored
		for _, att := range stored.AttachmentIDs {
			b.attachments[att] = key
		}
	}
	return nil
}

// DuplicateIDs returns the candidates already stored for the owner+stream.
func (b *MemoryBin) DuplicateIDs(_ context.Context, owner, streamID string, streamVersion int64, candidates []string) ([]string, error) {
	if owner == "" || streamID == "" {
		return nil, errors.WrapInvalid(nil, "pointbin", "DuplicateIDs", "owner and stream id are required")
	}
	if streamVersion < 1 {
		return nil, errors.WrapInvalid(nil, "pointbin", "DuplicateIDs", "stream version must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var dups []string
	for _, id := range candidates {
		if _, exists := b.points[identityKey(owner, streamID, streamVersion, id)]; exists {
			dups = append(dups, id)
		}
	}
	return dups, nil
}

// Query filters, orders, and paginates stored points.
func (b *MemoryBin) Query(_ context.Context, params QueryParams) (*Page, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	var matches []*Point
	for _, p := range b.points {
		if params.matches(p) {
			matches = append(matches, p)
		}
	}
	b.mu.Unlock()

	return buildPage(matches, &params), nil
}

// GetPoint is an exact lookup.
func (b *MemoryBin) GetPoint(_ context.Context, owner, streamID string, streamVersion int64, pointID string) (*Point, bool, error) {
	if err := checkLookupArgs("GetPoint", owner, streamID, streamVersion, pointID); err != nil {
		return nil, false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, exists := b.points[identityKey(owner, streamID, streamVersion, pointID)]
	if !exists {
		return nil, false, nil
	}
	return p, true, nil
}

// DeletePoint removes a point and its attachment index entries. Absent
// points are a no-op.
func (b *MemoryBin) DeletePoint(_ context.Context, owner, streamID string, streamVersion int64, pointID string) error {
	if err := checkLookupArgs("DeletePoint", owner, streamID, streamVersion, pointID); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := identityKey(owner, streamID, streamVersion, pointID)
	p, exists := b.points[key]
	if !exists {
		return nil
	}
	for _, att := range p.AttachmentIDs {
		delete(b.attachments, att)
	}
	delete(b.points, key)
	return nil
}

// PointForAttachment resolves an attachment id to its owning point.
func (b *MemoryBin) PointForAttachment(_ context.Context, attachmentID string) (*Point, bool, error) {
	if attachmentID == "" {
		return nil, false, errors.WrapInvalid(nil, "pointbin", "PointForAttachment", "attachment id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key, exists := b.attachments[attachmentID]
	if !exists {
		return nil, false, nil
	}
	p, exists := b.points[key]
	if !exists {
		return nil, false, nil
	}
	return p, true, nil
}
