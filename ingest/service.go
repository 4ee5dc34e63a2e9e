package ingest

import (
	stderrors "errors"
	"log/slog"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/metric"
	"github.com/c360/streambank/pkg/retry"
	"github.com/c360/streambank/pointbin"
	"github.com/c360/streambank/streambin"
)

// ReadPermission decides whether requester may read owner's data in the
// given stream. An empty owner means "all owners" (an unscoped query).
// Permission logic itself lives with the caller; the service only enforces
// the verdict.
type ReadPermission func(requester, owner, streamID string) bool

// Service is the ingestion coordinator. Construct it with NewService; the
// zero value is not usable.
type Service struct {
	streams   streambin.Bin
	observers streambin.ObserverBin
	points    pointbin.Bin

	canRead  ReadPermission
	metrics  *metric.Metrics
	retryCfg retry.Config
	logger   *slog.Logger

	maxBatchSize    int
	maxPayloadBytes int
}

// Option configures a Service
type Option func(*Service)

// WithReadPermission installs the read-side permission check. Without one,
// all reads are allowed.
func WithReadPermission(fn ReadPermission) Option {
	return func(s *Service) { s.canRead = fn }
}

// WithMetrics wires ingestion counters into the given core metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRetryConfig overrides the retry policy for transient storage errors
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *Service) { s.retryCfg = cfg }
}

// WithLimits caps the batch record count and the per-record payload size.
// Zero disables the respective limit.
func WithLimits(maxBatchSize, maxPayloadBytes int) Option {
	return func(s *Service) {
		s.maxBatchSize = maxBatchSize
		s.maxPayloadBytes = maxPayloadBytes
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates an ingestion service over the given repositories
func NewService(streams streambin.Bin, observers streambin.ObserverBin, points pointbin.Bin, opts ...Option) (*Service, error) {
	if streams == nil || observers == nil || points == nil {
		return nil, errors.WrapInvalid(nil, "ingest", "NewService", "all repositories are required")
	}

	s := &Service{
		streams:   streams,
		observers: observers,
		points:    points,
		retryCfg:  retry.DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) allowRead(requester, owner, streamID string) bool {
	if s.canRead == nil {
		return true
	}
	return s.canRead(requester, owner, streamID)
}

// rejectionReason maps a validation error to a stable metrics label
func rejectionReason(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrMalformedPayload):
		return "malformed_payload"
	case stderrors.Is(err, errors.ErrSchemaMismatch):
		return "schema_mismatch"
	case stderrors.Is(err, errors.ErrInvalidMetadata):
		return "invalid_metadata"
	case stderrors.Is(err, errors.ErrKeyNotFound):
		return "unknown_stream"
	case errors.IsInvalid(err):
		return "invalid_argument"
	default:
		return "internal"
	}
}
