package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/linkedin/goavro/v2"
)

// StepCountSchema is a minimal one-field record schema.
const StepCountSchema = `{
	"type": "record",
	"name": "step_count",
	"fields": [
		{"name": "count", "type": "int"}
	]
}`

// SensorReadingSchema exercises multiple primitive field types.
const SensorReadingSchema = `{
	"type": "record",
	"name": "sensor_reading",
	"fields": [
		{"name": "sensor", "type": "string"},
		{"name": "value", "type": "double"}
	]
}`

// ActivityDefinition is a complete observer definition document declaring
// two streams.
const ActivityDefinition = `{
	"id": "org.example.activity",
	"version": 1,
	"owner": "alice",
	"streams": [
		{
			"id": "step_count",
			"version": 1,
			"name": "Step count",
			"description": "Steps per sampling interval",
			"schema": {
				"type": "record",
				"name": "step_count",
				"fields": [{"name": "count", "type": "int"}]
			}
		},
		{
			"id": "sensor_reading",
			"version": 1,
			"name": "Sensor reading",
			"schema": {
				"type": "record",
				"name": "sensor_reading",
				"fields": [
					{"name": "sensor", "type": "string"},
					{"name": "value", "type": "double"}
				]
			}
		}
	]
}`

// EncodeAvro encodes a native Go value to Avro binary under the schema.
func EncodeAvro(t *testing.T, schema string, value map[string]any) []byte {
	t.Helper()
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	data, err := codec.BinaryFromNative(nil, value)
	if err != nil {
		t.Fatalf("encode value: %v", err)
	}
	return data
}

// StepCountPayload encodes a step_count record.
func StepCountPayload(t *testing.T, count int) []byte {
	t.Helper()
	return EncodeAvro(t, StepCountSchema, map[string]any{"count": count})
}

// MetadataDoc builds a metadata document with an epoch-milliseconds time
// and an optional timezone id.
func MetadataDoc(timeMs int64, timezone string) map[string]any {
	doc := map[string]any{"time": float64(timeMs)}
	if timezone != "" {
		doc["timezone"] = timezone
	}
	return doc
}

// NewPointID returns a fresh caller-style point identifier.
func NewPointID() string {
	return uuid.NewString()
}

// NewStreamID returns a unique stream id for tests that must not collide
// in a shared bucket.
func NewStreamID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8])
}
