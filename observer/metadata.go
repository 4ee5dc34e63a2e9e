package observer

import (
	"fmt"
	"time"

	"github.com/c360/streambank/errors"
)

// timestampLayout is the one accepted absolute timestamp format:
// basic ISO-8601 date-time with millisecond precision and a zone offset,
// e.g. "20230101T120000.000+0100" or "20230101T120000.000Z".
const timestampLayout = "20060102T150405.000Z0700"

// Location is an optional position reading attached to a data point.
// Every field may be absent; a present field with the wrong type fails
// metadata parsing as a whole.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Provider  string  `json:"provider,omitempty"`
	Time      int64   `json:"time,omitempty"` // epoch milliseconds
}

// MetaData carries the optional timestamp and location of a data point.
// Timestamp and location are independently present-or-absent; no partial
// state escapes parsing.
type MetaData struct {
	Timestamp time.Time `json:"timestamp,omitempty"`
	Location  *Location `json:"location,omitempty"`
}

// HasTimestamp reports whether a timestamp was present in the source document
func (m *MetaData) HasTimestamp() bool {
	return m != nil && !m.Timestamp.IsZero()
}

// ParseMetaData extracts the optional timestamp and location from a loosely
// structured metadata document. A nil document yields a nil MetaData, which
// is legal: not every point carries metadata. A present-but-broken field
// fails with ErrInvalidMetadata; silently dropping it would corrupt
// downstream statistics.
func ParseMetaData(doc map[string]any) (*MetaData, error) {
	if doc == nil {
		return nil, nil
	}

	meta := &MetaData{}

	ts, err := parseTimestamp(doc)
	if err != nil {
		return nil, err
	}
	meta.Timestamp = ts

	loc, err := parseLocation(doc)
	if err != nil {
		return nil, err
	}
	meta.Location = loc

	if meta.Timestamp.IsZero() && meta.Location == nil {
		return nil, nil
	}
	return meta, nil
}

// parseTimestamp resolves the point time in priority order: an explicit
// "timestamp" string in the fixed layout, then a numeric "time" in epoch
// milliseconds combined with an optional "timezone" identifier, else absent.
func parseTimestamp(doc map[string]any) (time.Time, error) {
	if raw, ok := doc["timestamp"]; ok {
		str, ok := raw.(string)
		if !ok {
			return time.Time{}, invalidMetadata(
				fmt.Errorf("timestamp has type %T", raw), "the timestamp is not a string")
		}
		ts, err := time.Parse(timestampLayout, str)
		if err != nil {
			return time.Time{}, invalidMetadata(err, "the timestamp does not match the expected format")
		}
		return ts, nil
	}

	raw, ok := doc["time"]
	if !ok {
		return time.Time{}, nil
	}
	ms, ok := epochMillis(raw)
	if !ok {
		return time.Time{}, invalidMetadata(
			fmt.Errorf("time has type %T", raw), "the time is not a number")
	}

	zone := time.UTC
	if rawZone, ok := doc["timezone"]; ok {
		id, ok := rawZone.(string)
		if !ok {
			return time.Time{}, invalidMetadata(
				fmt.Errorf("timezone has type %T", rawZone), "the time zone is not a string")
		}
		loc, err := time.LoadLocation(id)
		if err != nil {
			return time.Time{}, invalidMetadata(err, "the time zone is not known")
		}
		zone = loc
	}

	return time.UnixMilli(ms).In(zone), nil
}

// parseLocation interprets the optional "location" object. Absence is legal;
// a present location that is not an object, or that carries wrongly typed
// fields, is a hard failure.
func parseLocation(doc map[string]any) (*Location, error) {
	raw, ok := doc["location"]
	if !ok {
		return nil, nil
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, invalidMetadata(
			fmt.Errorf("location has type %T", raw), "the location is not an object")
	}

	loc := &Location{}

	if v, ok := obj["latitude"]; ok {
		f, ok := toFloat(v)
		if !ok || f < -90 || f > 90 {
			return nil, invalidMetadata(fmt.Errorf("latitude %v", v), "the latitude is invalid")
		}
		loc.Latitude = f
	}
	if v, ok := obj["longitude"]; ok {
		f, ok := toFloat(v)
		if !ok || f < -180 || f > 180 {
			return nil, invalidMetadata(fmt.Errorf("longitude %v", v), "the longitude is invalid")
		}
		loc.Longitude = f
	}
	if v, ok := obj["accuracy"]; ok {
		f, ok := toFloat(v)
		if !ok || f < 0 {
			return nil, invalidMetadata(fmt.Errorf("accuracy %v", v), "the accuracy is invalid")
		}
		loc.Accuracy = f
	}
	if v, ok := obj["provider"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, invalidMetadata(fmt.Errorf("provider has type %T", v), "the provider is not a string")
		}
		loc.Provider = s
	}
	if v, ok := obj["time"]; ok {
		ms, ok := epochMillis(v)
		if !ok {
			return nil, invalidMetadata(fmt.Errorf("location time has type %T", v), "the location time is not a number")
		}
		loc.Time = ms
	}

	return loc, nil
}

func invalidMetadata(cause error, reason string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s: %v", errors.ErrInvalidMetadata, reason, cause),
		"observer", "ParseMetaData", "parse metadata")
}

// epochMillis accepts the numeric representations a JSON decoder may
// produce for an epoch-milliseconds value.
func epochMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
