package pointbin

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360/streambank/errors"
)

// Bin is the duplicate-safe point repository. AddPoints is all-or-nothing:
// a batch containing any point whose identity already exists (or appears
// twice within the batch) fails entirely and stores nothing.
type Bin interface {
	// AddPoints stores a batch. An empty batch is an invalid argument; a
	// duplicate identity or an attachment id that is already referenced,
	// anywhere in the batch, fails the whole batch with ErrDuplicateUnit.
	AddPoints(ctx context.Context, points []*Point) error

	// DuplicateIDs returns the subset of candidates already stored for the
	// given owner and stream. Order follows the candidate order.
	DuplicateIDs(ctx context.Context, owner, streamID string, streamVersion int64, candidates []string) ([]string, error)

	// Query returns a filtered, ordered, paginated page of results.
	Query(ctx context.Context, params QueryParams) (*Page, error)

	// GetPoint is an exact lookup; absent points report found=false, not
	// an error.
	GetPoint(ctx context.Context, owner, streamID string, streamVersion int64, pointID string) (*Point, bool, error)

	// DeletePoint removes one point. Deleting an absent point is a no-op.
	DeletePoint(ctx context.Context, owner, streamID string, streamVersion int64, pointID string) error

	// PointForAttachment resolves an attachment id to the point that
	// references it, found=false when nothing does.
	PointForAttachment(ctx context.Context, attachmentID string) (*Point, bool, error)
}

var (
	_ Bin = (*MemoryBin)(nil)
	_ Bin = (*KVBin)(nil)
)

// identityKey is the point's natural key rendered as a single string,
// shared by both implementations so duplicate detection agrees.
func identityKey(owner, streamID string, streamVersion int64, pointID string) string {
	return fmt.Sprintf("%s/%d/%s/%s", streamID, streamVersion, owner, pointID)
}

func (p *Point) identity() string {
	return identityKey(p.Owner, p.StreamID, p.StreamVersion, p.PointID)
}

func checkLookupArgs(method, owner, streamID string, streamVersion int64, pointID string) error {
	if owner == "" || streamID == "" || pointID == "" {
		return errors.WrapInvalid(nil, "pointbin", method, "owner, stream id and point id are required")
	}
	if streamVersion < 1 {
		return errors.WrapInvalid(nil, "pointbin", method, "stream version must be positive")
	}
	return nil
}

// checkBatch validates every point and rejects in-batch identity collisions
// before any implementation touches storage.
func checkBatch(points []*Point) (map[string]*Point, error) {
	if len(points) == 0 {
		return nil, errors.WrapInvalid(nil, "pointbin", "AddPoints", "batch is empty")
	}
	seen := make(map[string]*Point, len(points))
	for _, p := range points {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		key := p.identity()
		if _, dup := seen[key]; dup {
			return nil, errors.WrapConflict(errors.ErrDuplicateUnit, "pointbin", "AddPoints",
				fmt.Sprintf("point %s repeated within batch", p.PointID))
		}
		seen[key] = p
	}
	return seen, nil
}

// keySafe reports whether a value can appear as one segment of a storage
// key without ambiguity.
func keySafe(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '.', r == '_', r == '=', r == '-':
			return false
		}
		return true
	}) == -1
}
