package ingest

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/observer"
)

// RegisterObserver validates an observer definition document and registers
// the observer together with every stream it declares. A stream version
// already registered with an identical schema is tolerated (definitions may
// share streams across observer versions); the same version with a
// different schema is a conflict.
func (s *Service) RegisterObserver(ctx context.Context, definition []byte) (*observer.Observer, error) {
	obs, err := observer.ParseDefinition(definition)
	if err != nil {
		return nil, err
	}

	// Streams first: the observer record only becomes visible once every
	// stream it declares is registered, so a mid-loop failure never leaves
	// a registered observer with missing streams
	for _, stream := range obs.Streams() {
		if err := s.registerStream(ctx, stream); err != nil {
			return nil, err
		}
	}

	if err := s.observers.AddObserver(ctx, obs); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserversRegistered.Inc()
	}
	s.logger.Info("observer registered",
		"observer", obs.ID,
		"version", obs.Version,
		"streams", len(obs.Streams()))
	return obs, nil
}

// RegisterStream registers a single stream schema version
func (s *Service) RegisterStream(ctx context.Context, stream *observer.Stream) error {
	if stream == nil {
		return errors.WrapInvalid(nil, "ingest", "RegisterStream", "stream is required")
	}
	if err := s.streams.AddStream(ctx, stream); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.StreamsRegistered.Inc()
	}
	s.logger.Info("stream registered", "stream", stream.ID, "version", stream.Version)
	return nil
}

func (s *Service) registerStream(ctx context.Context, stream *observer.Stream) error {
	err := s.streams.AddStream(ctx, stream)
	if err == nil {
		if s.metrics != nil {
			s.metrics.StreamsRegistered.Inc()
		}
		return nil
	}
	if !stderrors.Is(err, errors.ErrDuplicateStream) {
		return err
	}

	existing, found, getErr := s.streams.GetStream(ctx, stream.ID, stream.Version)
	if getErr != nil {
		return getErr
	}
	if found && existing.Schema == stream.Schema {
		return nil
	}
	return errors.WrapConflict(errors.ErrDuplicateStream, "ingest", "RegisterObserver",
		fmt.Sprintf("stream %s version %d already registered with a different schema",
			stream.ID, stream.Version))
}

// StreamIDs lists every registered stream id
func (s *Service) StreamIDs(ctx context.Context) ([]string, error) {
	return s.streams.StreamIDs(ctx)
}

// StreamVersions lists the registered versions of one stream
func (s *Service) StreamVersions(ctx context.Context, streamID string) ([]int64, error) {
	return s.streams.StreamVersions(ctx, streamID)
}

// GetStream is an exact schema lookup
func (s *Service) GetStream(ctx context.Context, streamID string, version int64) (*observer.Stream, bool, error) {
	return s.streams.GetStream(ctx, streamID, version)
}

// GetLatestStream returns the numerically greatest registered version
func (s *Service) GetLatestStream(ctx context.Context, streamID string) (*observer.Stream, bool, error) {
	return s.streams.GetLatestStream(ctx, streamID)
}

// StreamExists checks stream existence; a nil version means any version
func (s *Service) StreamExists(ctx context.Context, streamID string, version *int64) (bool, error) {
	return s.streams.Exists(ctx, streamID, version)
}

// GetObserver is an exact observer lookup
func (s *Service) GetObserver(ctx context.Context, id string, version int64) (*observer.Observer, bool, error) {
	return s.observers.GetObserver(ctx, id, version)
}
