package streambin

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/observer"
)

func testStream(t *testing.T, id string, version int64) *observer.Stream {
	t.Helper()
	schema := fmt.Sprintf(`{
		"type": "record",
		"name": "r%d",
		"fields": [{"name": "value", "type": "int"}]
	}`, version)
	s, err := observer.NewStream(id, version, id, "", schema)
	require.NoError(t, err)
	return s
}

func TestMemoryBinAddAndGet(t *testing.T) {
	ctx := context.Background()
	bin := NewMemoryBin()

	s1 := testStream(t, "step_count", 1)
	require.NoError(t, bin.AddStream(ctx, s1))

	got, found, err := bin.GetStream(ctx, "step_count", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, s1.Key(), got.Key())

	_, found, err = bin.GetStream(ctx, "step_count", 2)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = bin.GetStream(ctx, "unknown", 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryBinDuplicateRegistration(t *testing.T) {
	ctx := context.Background()
	bin := NewMemoryBin()

	s := testStream(t, "step_count", 1)
	require.NoError(t, bin.AddStream(ctx, s))

	err := bin.AddStream(ctx, testStream(t, "step_count", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateStream)
	assert.True(t, errors.IsConflict(err))

	// The first registration is unchanged
	got, found, err := bin.GetStream(ctx, "step_count", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Same(t, s, got)
}

func TestMemoryBinConcurrentRegistrationOneWinner(t *testing.T) {
	ctx := context.Background()
	bin := NewMemoryBin()

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- bin.AddStream(ctx, testStream(t, "contested", 1))
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		if err == nil {
			successes++
		} else if errors.IsConflict(err) {
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, racers-1, conflicts)
}

func TestMemoryBinStreamIDsAndVersions(t *testing.T) {
	ctx := context.Background()
	bin := NewMemoryBin()

	require.NoError(t, bin.AddStream(ctx, testStream(t, "a", 1)))
	require.NoError(t, bin.AddStream(ctx, testStream(t, "a", 3)))
	require.NoError(t, bin.AddStream(ctx, testStream(t, "a", 2)))
	require.NoError(t, bin.AddStream(ctx, testStream(t, "b", 1)))

	ids, err := bin.StreamIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	versions, err := bin.StreamVersions(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, versions)

	versions, err = bin.StreamVersions(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, versions)

	_, err = bin.StreamVersions(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMemoryBinGetLatestStream(t *testing.T) {
	ctx := context.Background()
	bin := NewMemoryBin()

	require.NoError(t, bin.AddStream(ctx, testStream(t, "a", 2)))
	require.NoError(t, bin.AddStream(ctx, testStream(t, "a", 7)))
	require.NoError(t, bin.AddStream(ctx, testStream(t, "a", 5)))

	latest, found, err := bin.GetLatestStream(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(7), latest.Version)

	_, found, err = bin.GetLatestStream(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryBinExists(t *testing.T) {
	ctx := context.Background()
	bin := NewMemoryBin()

	require.NoError(t, bin.AddStream(ctx, testStream(t, "a", 2)))

	v2 := int64(2)
	v9 := int64(9)

	exists, err := bin.Exists(ctx, "a", nil)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = bin.Exists(ctx, "a", &v2)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = bin.Exists(ctx, "a", &v9)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = bin.Exists(ctx, "b", nil)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = bin.Exists(ctx, "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func testObserver(t *testing.T, id string, version int64) *observer.Observer {
	t.Helper()
	obs, err := observer.NewObserver(id, version, "alice",
		[]*observer.Stream{testStream(t, "s", 1)})
	require.NoError(t, err)
	return obs
}

func TestMemoryObserverBin(t *testing.T) {
	ctx := context.Background()
	bin := NewMemoryObserverBin()

	obs := testObserver(t, "org.example", 1)
	require.NoError(t, bin.AddObserver(ctx, obs))

	err := bin.AddObserver(ctx, testObserver(t, "org.example", 1))
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	// A new version is a wholly new record
	require.NoError(t, bin.AddObserver(ctx, testObserver(t, "org.example", 2)))

	got, found, err := bin.GetObserver(ctx, "org.example", 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), got.Version)

	_, found, err = bin.GetObserver(ctx, "org.example", 3)
	require.NoError(t, err)
	assert.False(t, found)

	exists, err := bin.ObserverExists(ctx, "org.example")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = bin.ObserverExists(ctx, "org.other")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSplitStreamKey(t *testing.T) {
	tests := []struct {
		key     string
		id      string
		version int64
		ok      bool
	}{
		{"step_count/1", "step_count", 1, true},
		{"org.example.gps/12", "org.example.gps", 12, true},
		{"noversion", "", 0, false},
		{"trailing/", "", 0, false},
		{"bad/version/x", "", 0, false},
	}

	for _, tt := range tests {
		id, version, ok := splitStreamKey(tt.key)
		assert.Equal(t, tt.ok, ok, tt.key)
		if tt.ok {
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.version, version)
		}
	}
}
