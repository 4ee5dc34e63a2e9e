package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/observer"
	"github.com/c360/streambank/pkg/retry"
	"github.com/c360/streambank/pointbin"
)

// RawPoint is one record of an upload batch as it arrives from the
// transport layer: identity fields, the loosely structured metadata
// document, and the opaque binary payload.
type RawPoint struct {
	StreamID string
	// StreamVersion selects the schema that produced Data. Zero means
	// "latest registered version".
	StreamVersion int64
	PointID       string
	Metadata      map[string]any
	Data          []byte
	AttachmentIDs []string
}

// BatchError describes one failed record of an upload batch
type BatchError struct {
	Index   int
	PointID string
	Reason  string
	Err     error
}

func (e BatchError) Error() string {
	return fmt.Sprintf("record %d (%s): %s: %v", e.Index, e.PointID, e.Reason, e.Err)
}

// UploadResult summarizes a completed upload
type UploadResult struct {
	// Accepted counts points validated and stored by this call.
	Accepted int
	// Skipped lists point ids that were already stored and silently
	// skipped, the normal outcome of a client retry.
	Skipped []string
	// Failures lists the records that did not validate.
	Failures []BatchError
}

// ValidateBatch decodes and validates every record of a batch against its
// stream's schema. Valid records come back as points ready for storage;
// each invalid record is reported individually, never as an opaque batch
// failure.
func (s *Service) ValidateBatch(ctx context.Context, owner string, raws []RawPoint) ([]*pointbin.Point, []BatchError, error) {
	if owner == "" {
		return nil, nil, errors.WrapInvalid(nil, "ingest", "ValidateBatch", "owner is required")
	}
	if len(raws) == 0 {
		return nil, nil, errors.WrapInvalid(nil, "ingest", "ValidateBatch", "batch is empty")
	}
	if s.maxBatchSize > 0 && len(raws) > s.maxBatchSize {
		return nil, nil, errors.WrapInvalid(
			fmt.Errorf("%d records, limit %d", len(raws), s.maxBatchSize),
			"ingest", "ValidateBatch", "batch exceeds the record limit")
	}

	var (
		points   []*pointbin.Point
		failures []BatchError
	)
	for i, raw := range raws {
		p, err := s.validateOne(ctx, owner, raw)
		if err != nil {
			reason := rejectionReason(err)
			failures = append(failures, BatchError{
				Index:   i,
				PointID: raw.PointID,
				Reason:  reason,
				Err:     err,
			})
			if s.metrics != nil {
				s.metrics.PointsRejected.WithLabelValues(raw.StreamID, reason).Inc()
			}
			continue
		}
		points = append(points, p)
	}
	return points, failures, nil
}

func (s *Service) validateOne(ctx context.Context, owner string, raw RawPoint) (*pointbin.Point, error) {
	if raw.StreamID == "" {
		return nil, errors.WrapInvalid(nil, "ingest", "ValidateBatch", "stream id is required")
	}
	if raw.PointID == "" {
		return nil, errors.WrapInvalid(nil, "ingest", "ValidateBatch", "point id is required")
	}
	if s.maxPayloadBytes > 0 && len(raw.Data) > s.maxPayloadBytes {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%d bytes, limit %d", len(raw.Data), s.maxPayloadBytes),
			"ingest", "ValidateBatch", "payload exceeds the size limit")
	}

	stream, err := s.resolveStream(ctx, raw.StreamID, raw.StreamVersion)
	if err != nil {
		return nil, err
	}

	unit, err := observer.Decode(stream, raw.Metadata, raw.Data)
	if err != nil {
		return nil, err
	}
	if len(raw.AttachmentIDs) > 0 {
		unit = unit.WithAttachments(raw.AttachmentIDs...)
	}
	return pointbin.FromUnit(owner, raw.PointID, unit)
}

func (s *Service) resolveStream(ctx context.Context, streamID string, version int64) (*observer.Stream, error) {
	if version > 0 {
		stream, found, err := s.streams.GetStream(ctx, streamID, version)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errors.WrapInvalid(
				fmt.Errorf("stream %s version %d: %w", streamID, version, errors.ErrKeyNotFound),
				"ingest", "ValidateBatch", "unknown stream version")
		}
		return stream, nil
	}

	stream, found, err := s.streams.GetLatestStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.WrapInvalid(
			fmt.Errorf("stream %s: %w", streamID, errors.ErrKeyNotFound),
			"ingest", "ValidateBatch", "unknown stream")
	}
	return stream, nil
}

// Upload validates a batch, skips points the repository already holds, and
// stores the rest atomically. Transient storage errors are retried; the
// repository's atomicity guarantee makes that safe.
func (s *Service) Upload(ctx context.Context, owner string, raws []RawPoint) (*UploadResult, error) {
	started := time.Now()

	points, failures, err := s.ValidateBatch(ctx, owner, raws)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{Failures: failures}
	if len(points) == 0 {
		return result, nil
	}

	streamID := points[0].StreamID
	if s.metrics != nil {
		s.metrics.BatchSize.WithLabelValues(streamID).Observe(float64(len(raws)))
		defer func() {
			s.metrics.ValidationSeconds.WithLabelValues(streamID).Observe(time.Since(started).Seconds())
		}()
	}

	// Idempotent resubmission: ids already stored are skipped, not errors
	fresh, skipped, err := s.dropStoredDuplicates(ctx, owner, points)
	if err != nil {
		return nil, err
	}
	result.Skipped = skipped
	if s.metrics != nil && len(skipped) > 0 {
		s.metrics.DuplicatesSkipped.WithLabelValues(streamID).Add(float64(len(skipped)))
	}
	if len(fresh) == 0 {
		return result, nil
	}

	err = retry.Do(ctx, s.retryCfg, func() error {
		addErr := s.points.AddPoints(ctx, fresh)
		if addErr != nil && !errors.IsTransient(addErr) {
			return retry.NonRetryable(addErr)
		}
		return addErr
	})
	if err != nil {
		var nonRetryable *retry.NonRetryableError
		if stderrors.As(err, &nonRetryable) {
			err = nonRetryable.Unwrap()
		}
		return nil, err
	}

	result.Accepted = len(fresh)
	if s.metrics != nil {
		s.metrics.PointsAccepted.WithLabelValues(streamID).Add(float64(len(fresh)))
	}
	s.logger.Debug("batch stored",
		"owner", owner,
		"stream", streamID,
		"accepted", result.Accepted,
		"skipped", len(result.Skipped),
		"failed", len(result.Failures))
	return result, nil
}

// dropStoredDuplicates partitions points into not-yet-stored and
// already-stored, querying the repository per (stream, version) group.
func (s *Service) dropStoredDuplicates(ctx context.Context, owner string, points []*pointbin.Point) ([]*pointbin.Point, []string, error) {
	type group struct {
		streamID string
		version  int64
	}
	candidates := make(map[group][]string)
	for _, p := range points {
		g := group{p.StreamID, p.StreamVersion}
		candidates[g] = append(candidates[g], p.PointID)
	}

	stored := make(map[group]map[string]bool, len(candidates))
	for g, ids := range candidates {
		dups, err := s.points.DuplicateIDs(ctx, owner, g.streamID, g.version, ids)
		if err != nil {
			return nil, nil, err
		}
		set := make(map[string]bool, len(dups))
		for _, id := range dups {
			set[id] = true
		}
		stored[g] = set
	}

	var (
		fresh   []*pointbin.Point
		skipped []string
	)
	for _, p := range points {
		if stored[group{p.StreamID, p.StreamVersion}][p.PointID] {
			skipped = append(skipped, p.PointID)
			continue
		}
		fresh = append(fresh, p)
	}
	return fresh, skipped, nil
}
