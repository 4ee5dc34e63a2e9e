package observer

import (
	"fmt"
	"sync"

	"github.com/linkedin/goavro/v2"

	"github.com/c360/streambank/errors"
)

// StreamKey identifies one schema version of one stream. It is the
// non-owning reference units carry back to their stream definition.
type StreamKey struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// String renders the key in "id/version" form for logs and error messages
func (k StreamKey) String() string {
	return fmt.Sprintf("%s/%d", k.ID, k.Version)
}

// Stream is one named, versioned schema describing the structure of one
// kind of data point. Immutable after construction; a new schema is a new
// version, never an in-place edit.
type Stream struct {
	ID          string `json:"id"`
	Version     int64  `json:"version"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      string `json:"schema"`

	codecOnce sync.Once
	codec     *goavro.Codec
	codecErr  error
}

// NewStream compiles the Avro schema and constructs the stream definition
func NewStream(id string, version int64, name, description, schema string) (*Stream, error) {
	if id == "" {
		return nil, errors.WrapInvalid(nil, "observer", "NewStream", "stream id cannot be empty")
	}
	if version <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("version %d", version),
			"observer", "NewStream", "stream version must be positive")
	}
	if schema == "" {
		return nil, errors.WrapInvalid(nil, "observer", "NewStream", "schema cannot be empty")
	}

	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, errors.WrapInvalid(err, "observer", "NewStream",
			fmt.Sprintf("compile schema for stream %s/%d", id, version))
	}

	return &Stream{
		ID:          id,
		Version:     version,
		Name:        name,
		Description: description,
		Schema:      schema,
		codec:       codec,
	}, nil
}

// Key returns the (id, version) lookup key for this stream
func (s *Stream) Key() StreamKey {
	return StreamKey{ID: s.ID, Version: s.Version}
}

// Codec returns the compiled Avro codec. Streams reconstructed from
// storage compile it on first use; the compile runs at most once, so the
// same definition can serve concurrent callers.
func (s *Stream) Codec() (*goavro.Codec, error) {
	s.codecOnce.Do(func() {
		if s.codec != nil {
			return
		}
		codec, err := goavro.NewCodec(s.Schema)
		if err != nil {
			s.codecErr = errors.WrapFatal(err, "observer", "Codec",
				fmt.Sprintf("recompile stored schema for stream %s/%d", s.ID, s.Version))
			return
		}
		s.codec = codec
	})
	return s.codec, s.codecErr
}
