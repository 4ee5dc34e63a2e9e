package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/metric"
	"github.com/c360/streambank/observer"
	"github.com/c360/streambank/pkg/retry"
	"github.com/c360/streambank/pointbin"
	"github.com/c360/streambank/streambin"
	"github.com/c360/streambank/testutil"
)

func mustStream(t *testing.T, id string, version int64, schema string) *observer.Stream {
	t.Helper()
	s, err := observer.NewStream(id, version, id, "", schema)
	require.NoError(t, err)
	return s
}

func setupStepCount(t *testing.T, svc *Service) {
	t.Helper()
	require.NoError(t, svc.RegisterStream(context.Background(),
		mustStream(t, "step_count", 1, testutil.StepCountSchema)))
}

func stepRaw(t *testing.T, pointID string, count int, timeMs int64) RawPoint {
	t.Helper()
	raw := RawPoint{
		StreamID:      "step_count",
		StreamVersion: 1,
		PointID:       pointID,
		Data:          testutil.StepCountPayload(t, count),
	}
	if timeMs != 0 {
		raw.Metadata = testutil.MetadataDoc(timeMs, "")
	}
	return raw
}

func TestUploadStoresBatch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	setupStepCount(t, svc)

	result, err := svc.Upload(ctx, "alice", []RawPoint{
		stepRaw(t, "p1", 42, 1000),
		stepRaw(t, "p2", 7, 2000),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)
	assert.Empty(t, result.Skipped)
	assert.Empty(t, result.Failures)

	got, found, err := svc.GetPoint(ctx, "alice", "alice", "step_count", 1, "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1000), got.Time)
	assert.Equal(t, testutil.StepCountPayload(t, 42), got.Payload,
		"stored payload is the original bytes")
}

func TestUploadReportsPerRecordFailures(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	setupStepCount(t, svc)

	truncated := stepRaw(t, "bad-payload", 42, 0)
	truncated.Data = truncated.Data[:0]

	badMeta := stepRaw(t, "bad-meta", 42, 0)
	badMeta.Metadata = map[string]any{"time": float64(1000), "timezone": "bogus/zone"}

	unknownStream := RawPoint{
		StreamID: "no_such_stream", StreamVersion: 1,
		PointID: "bad-stream", Data: testutil.StepCountPayload(t, 1),
	}

	result, err := svc.Upload(ctx, "alice", []RawPoint{
		stepRaw(t, "good", 42, 1000),
		truncated,
		badMeta,
		unknownStream,
	})
	require.NoError(t, err, "validation failures never fail the request opaquely")
	assert.Equal(t, 1, result.Accepted)
	require.Len(t, result.Failures, 3)

	reasons := map[string]string{}
	for _, f := range result.Failures {
		reasons[f.PointID] = f.Reason
	}
	assert.Equal(t, "malformed_payload", reasons["bad-payload"])
	assert.Equal(t, "invalid_metadata", reasons["bad-meta"])
	assert.Equal(t, "unknown_stream", reasons["bad-stream"])

	// Failure indices point back into the submitted batch
	for _, f := range result.Failures {
		assert.NotZero(t, f.Index)
		assert.NotEmpty(t, f.Error())
	}

	// The good record made it in
	_, found, err := svc.GetPoint(ctx, "alice", "alice", "step_count", 1, "good")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestUploadSkipsResubmittedPoints(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	setupStepCount(t, svc)

	batch := []RawPoint{
		stepRaw(t, "p1", 42, 1000),
		stepRaw(t, "p2", 7, 2000),
	}
	_, err := svc.Upload(ctx, "alice", batch)
	require.NoError(t, err)

	// At-least-once delivery: the client resends the batch plus one new point
	batch = append(batch, stepRaw(t, "p3", 9, 3000))
	result, err := svc.Upload(ctx, "alice", batch)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.ElementsMatch(t, []string{"p1", "p2"}, result.Skipped)
}

func TestUploadResolvesLatestVersion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	setupStepCount(t, svc)
	require.NoError(t, svc.RegisterStream(ctx,
		mustStream(t, "step_count", 2, testutil.SensorReadingSchema)))

	raw := RawPoint{
		StreamID: "step_count", // version omitted: latest wins
		PointID:  "p1",
		Data: testutil.EncodeAvro(t, testutil.SensorReadingSchema,
			map[string]any{"sensor": "imu", "value": 0.5}),
	}
	result, err := svc.Upload(ctx, "alice", []RawPoint{raw})
	require.NoError(t, err)
	require.Equal(t, 1, result.Accepted)

	_, found, err := svc.GetPoint(ctx, "alice", "alice", "step_count", 2, "p1")
	require.NoError(t, err)
	assert.True(t, found, "point was stored under the latest version")
}

func TestUploadEmptyBatch(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Upload(context.Background(), "alice", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = svc.Upload(context.Background(), "", []RawPoint{{}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUploadEnforcesLimits(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithLimits(2, 4))
	setupStepCount(t, svc)

	// Batch over the record limit is rejected outright
	_, err := svc.Upload(ctx, "alice", []RawPoint{
		stepRaw(t, "p1", 1, 1000),
		stepRaw(t, "p2", 2, 1000),
		stepRaw(t, "p3", 3, 1000),
	})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Oversized payload fails only its own record
	big := stepRaw(t, "p2", 2, 1000)
	big.Data = []byte{0, 1, 2, 3, 4, 5, 6, 7}
	result, err := svc.Upload(ctx, "alice", []RawPoint{
		stepRaw(t, "p1", 1, 1000),
		big,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "p2", result.Failures[0].PointID)
	assert.Equal(t, "invalid_argument", result.Failures[0].Reason)
}

// flakyBin fails AddPoints with a transient error a set number of times
// before delegating.
type flakyBin struct {
	pointbin.Bin
	remaining int
}

func (f *flakyBin) AddPoints(ctx context.Context, points []*pointbin.Point) error {
	if f.remaining > 0 {
		f.remaining--
		return errors.WrapTransient(fmt.Errorf("kv timeout"), "pointbin", "AddPoints", "store point")
	}
	return f.Bin.AddPoints(ctx, points)
}

func TestUploadRetriesTransientStorageErrors(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyBin{Bin: pointbin.NewMemoryBin(), remaining: 2}
	svc, err := NewService(
		streambin.NewMemoryBin(),
		streambin.NewMemoryObserverBin(),
		flaky,
		WithRetryConfig(retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		}))
	require.NoError(t, err)
	setupStepCount(t, svc)

	result, err := svc.Upload(ctx, "alice", []RawPoint{stepRaw(t, "p1", 42, 1000)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Zero(t, flaky.remaining)
}

func TestUploadDoesNotRetryConflicts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	setupStepCount(t, svc)

	// A duplicated id inside one batch bypasses the stored-id skip and hits
	// the repository's conflict detection, which must surface unretried.
	_, err := svc.Upload(ctx, "alice", []RawPoint{
		stepRaw(t, "p2", 1, 1000),
		stepRaw(t, "p2", 2, 2000),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateUnit)
}

func TestUploadRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	registry := metric.NewRegistry()
	svc, err := NewService(
		streambin.NewMemoryBin(),
		streambin.NewMemoryObserverBin(),
		pointbin.NewMemoryBin(),
		WithMetrics(registry.CoreMetrics()))
	require.NoError(t, err)
	setupStepCount(t, svc)

	batch := []RawPoint{stepRaw(t, "p1", 42, 1000)}
	_, err = svc.Upload(ctx, "alice", batch)
	require.NoError(t, err)

	// Resubmit to exercise the duplicate counter
	_, err = svc.Upload(ctx, "alice", batch)
	require.NoError(t, err)

	m := registry.CoreMetrics()
	assert.Equal(t, float64(1),
		promtestutil.ToFloat64(m.PointsAccepted.WithLabelValues("step_count")))
	assert.Equal(t, float64(1),
		promtestutil.ToFloat64(m.DuplicatesSkipped.WithLabelValues("step_count")))
}
