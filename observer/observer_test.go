package observer

import (
	"sync"
	"testing"

	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streambank/errors"
)

const validDefinition = `{
	"id": "org.streambank.mobility",
	"version": 1,
	"owner": "alice",
	"streams": [
		{
			"id": "step_count",
			"version": 1,
			"name": "Step Count",
			"description": "Pedometer readings",
			"schema": {
				"type": "record",
				"name": "step_count",
				"fields": [{"name": "count", "type": "int"}]
			}
		},
		{
			"id": "step_count",
			"version": 2,
			"name": "Step Count",
			"schema": {
				"type": "record",
				"name": "step_count",
				"fields": [
					{"name": "count", "type": "int"},
					{"name": "cadence", "type": "double"}
				]
			}
		},
		{
			"id": "gps",
			"version": 1,
			"name": "GPS",
			"schema": {
				"type": "record",
				"name": "gps",
				"fields": [
					{"name": "latitude", "type": "double"},
					{"name": "longitude", "type": "double"}
				]
			}
		}
	]
}`

func TestParseDefinition(t *testing.T) {
	o, err := ParseDefinition([]byte(validDefinition))
	require.NoError(t, err)

	assert.Equal(t, "org.streambank.mobility", o.ID)
	assert.Equal(t, int64(1), o.Version)
	assert.Equal(t, "alice", o.Owner)

	s, ok := o.Stream("step_count", 2)
	require.True(t, ok)
	assert.Equal(t, "Step Count", s.Name)

	_, ok = o.Stream("step_count", 3)
	assert.False(t, ok)

	streams := o.Streams()
	require.Len(t, streams, 3)
	assert.Equal(t, "gps", streams[0].ID)
	assert.Equal(t, int64(1), streams[1].Version)
	assert.Equal(t, int64(2), streams[2].Version)
}

func TestParseDefinitionRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"not json", "not json at all"},
		{"missing owner", `{"id": "x", "version": 1, "streams": [
			{"id": "s", "version": 1, "name": "S", "schema": {"type": "record", "name": "s", "fields": []}}]}`},
		{"no streams", `{"id": "x", "version": 1, "owner": "alice", "streams": []}`},
		{"zero version", `{"id": "x", "version": 0, "owner": "alice", "streams": [
			{"id": "s", "version": 1, "name": "S", "schema": {"type": "record", "name": "s", "fields": []}}]}`},
		{"bad stream id characters", `{"id": "x", "version": 1, "owner": "alice", "streams": [
			{"id": "s p a c e s", "version": 1, "name": "S", "schema": {"type": "record", "name": "s", "fields": []}}]}`},
		{"schema not an object", `{"id": "x", "version": 1, "owner": "alice", "streams": [
			{"id": "s", "version": 1, "name": "S", "schema": "int"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestParseDefinitionRejectsBadAvroSchema(t *testing.T) {
	doc := `{"id": "x", "version": 1, "owner": "alice", "streams": [
		{"id": "s", "version": 1, "name": "S",
		 "schema": {"type": "record", "name": "s"}}]}`

	_, err := ParseDefinition([]byte(doc))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestParseDefinitionRejectsDuplicateStreamVersion(t *testing.T) {
	doc := `{"id": "x", "version": 1, "owner": "alice", "streams": [
		{"id": "s", "version": 1, "name": "S",
		 "schema": {"type": "record", "name": "s", "fields": [{"name": "v", "type": "int"}]}},
		{"id": "s", "version": 1, "name": "S again",
		 "schema": {"type": "record", "name": "s", "fields": [{"name": "v", "type": "long"}]}}]}`

	_, err := ParseDefinition([]byte(doc))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewStreamValidation(t *testing.T) {
	_, err := NewStream("", 1, "n", "", stepCountSchema)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewStream("s", 0, "n", "", stepCountSchema)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewStream("s", 1, "n", "", "")
	assert.True(t, errors.IsInvalid(err))

	_, err = NewStream("s", 1, "n", "", "{not avro}")
	assert.True(t, errors.IsInvalid(err))
}

func TestNewObserverValidation(t *testing.T) {
	s := mustStream(t, "s", 1, stepCountSchema)

	_, err := NewObserver("", 1, "alice", []*Stream{s})
	assert.True(t, errors.IsInvalid(err))

	_, err = NewObserver("o", 1, "", []*Stream{s})
	assert.True(t, errors.IsInvalid(err))

	_, err = NewObserver("o", 1, "alice", nil)
	assert.True(t, errors.IsInvalid(err))

	dup := mustStream(t, "s", 1, stepCountSchema)
	_, err = NewObserver("o", 1, "alice", []*Stream{s, dup})
	assert.True(t, errors.IsInvalid(err))

	o, err := NewObserver("o", 1, "alice", []*Stream{s})
	require.NoError(t, err)
	got, ok := o.Stream("s", 1)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestStreamCodecRecompilesFromStoredSchema(t *testing.T) {
	// A stream deserialized from storage has no compiled codec
	s := &Stream{ID: "s", Version: 1, Schema: stepCountSchema}
	codec, err := s.Codec()
	require.NoError(t, err)
	assert.NotNil(t, codec)

	// Second call reuses the compiled codec
	again, err := s.Codec()
	require.NoError(t, err)
	assert.Same(t, codec, again)
}

func TestStreamCodecConcurrentFirstUse(t *testing.T) {
	// Cached repositories hand the same definition pointer to every
	// request, so the first compile races with itself unless guarded
	s := &Stream{ID: "s", Version: 1, Schema: stepCountSchema}

	const goroutines = 16
	codecs := make([]*goavro.Codec, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codec, err := s.Codec()
			assert.NoError(t, err)
			codecs[i] = codec
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, codecs[0], codecs[i])
	}
}

func TestStreamCodecCompileFailureIsSticky(t *testing.T) {
	s := &Stream{ID: "s", Version: 1, Schema: "{not avro"}

	_, err := s.Codec()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	// The failed compile is not retried; callers get the same error
	_, again := s.Codec()
	assert.Equal(t, err.Error(), again.Error())
}
