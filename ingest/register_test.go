package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/pointbin"
	"github.com/c360/streambank/streambin"
	"github.com/c360/streambank/testutil"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(
		streambin.NewMemoryBin(),
		streambin.NewMemoryObserverBin(),
		pointbin.NewMemoryBin(),
		opts...)
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresRepositories(t *testing.T) {
	_, err := NewService(nil, streambin.NewMemoryObserverBin(), pointbin.NewMemoryBin())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterObserver(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	obs, err := svc.RegisterObserver(ctx, []byte(testutil.ActivityDefinition))
	require.NoError(t, err)
	assert.Equal(t, "org.example.activity", obs.ID)
	assert.Len(t, obs.Streams(), 2)

	// Declared streams become resolvable
	ids, err := svc.StreamIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"step_count", "sensor_reading"}, ids)

	stream, found, err := svc.GetStream(ctx, "step_count", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), stream.Version)

	exists, err := svc.StreamExists(ctx, "sensor_reading", nil)
	require.NoError(t, err)
	assert.True(t, exists)

	got, found, err := svc.GetObserver(ctx, "org.example.activity", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", got.Owner)
}

func TestRegisterObserverDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.RegisterObserver(ctx, []byte(testutil.ActivityDefinition))
	require.NoError(t, err)

	_, err = svc.RegisterObserver(ctx, []byte(testutil.ActivityDefinition))
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestRegisterObserverInvalidDefinition(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.RegisterObserver(context.Background(), []byte(`{"id": "x"}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterObserverSharedStreamSameSchema(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.RegisterObserver(ctx, []byte(testutil.ActivityDefinition))
	require.NoError(t, err)

	// A new observer version redeclaring an existing stream with the same
	// schema is fine
	v2 := `{
		"id": "org.example.activity",
		"version": 2,
		"owner": "alice",
		"streams": [
			{
				"id": "step_count",
				"version": 1,
				"name": "Step count",
				"schema": {
					"type": "record",
					"name": "step_count",
					"fields": [{"name": "count", "type": "int"}]
				}
			}
		]
	}`
	_, err = svc.RegisterObserver(ctx, []byte(v2))
	require.NoError(t, err)
}

func TestRegisterObserverSharedStreamDifferentSchema(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.RegisterObserver(ctx, []byte(testutil.ActivityDefinition))
	require.NoError(t, err)

	conflicting := `{
		"id": "org.example.other",
		"version": 1,
		"owner": "bob",
		"streams": [
			{
				"id": "step_count",
				"version": 1,
				"name": "Step count",
				"schema": {
					"type": "record",
					"name": "step_count",
					"fields": [{"name": "count", "type": "long"}]
				}
			}
		]
	}`
	_, err = svc.RegisterObserver(ctx, []byte(conflicting))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateStream)

	// The failed registration leaves no observer record behind
	_, found, err := svc.GetObserver(ctx, "org.example.other", 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRegisterObserverFailureLeavesNoObserver(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	// Occupy step_count/1 with a different schema so the definition's
	// stream loop fails partway
	require.NoError(t, svc.RegisterStream(ctx,
		mustStream(t, "step_count", 1, `{
			"type": "record",
			"name": "step_count",
			"fields": [{"name": "count", "type": "long"}]
		}`)))

	_, err := svc.RegisterObserver(ctx, []byte(testutil.ActivityDefinition))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateStream)

	// The observer never became visible
	_, found, err := svc.GetObserver(ctx, "org.example.activity", 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRegisterStream(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	stream := mustStream(t, "heart_rate", 1, testutil.StepCountSchema)
	require.NoError(t, svc.RegisterStream(ctx, stream))

	err := svc.RegisterStream(ctx, stream)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateStream)

	err = svc.RegisterStream(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
