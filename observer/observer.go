package observer

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/streambank/errors"
)

// definitionSchema structurally validates observer definition documents
// before any stream schema is compiled. Stream schemas themselves are
// opaque here; goavro rejects bad ones during construction.
const definitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "version", "owner", "streams"],
	"properties": {
		"id": {"type": "string", "minLength": 1, "pattern": "^[a-zA-Z0-9._-]+$"},
		"version": {"type": "integer", "minimum": 1},
		"owner": {"type": "string", "minLength": 1},
		"streams": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "version", "name", "schema"],
				"properties": {
					"id": {"type": "string", "minLength": 1, "pattern": "^[a-zA-Z0-9._-]+$"},
					"version": {"type": "integer", "minimum": 1},
					"name": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"schema": {"type": "object"}
				}
			}
		}
	}
}`

// Observer is a versioned publisher identity that defines one or more named
// data streams. Immutable once created; publishing a changed set of streams
// means registering a wholly new observer version.
type Observer struct {
	ID      string
	Version int64
	Owner   string

	streams map[StreamKey]*Stream
}

// definitionDoc mirrors the JSON layout of an observer definition
type definitionDoc struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Owner   string `json:"owner"`
	Streams []struct {
		ID          string          `json:"id"`
		Version     int64           `json:"version"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Schema      json.RawMessage `json:"schema"`
	} `json:"streams"`
}

// ParseDefinition validates an observer definition document and constructs
// the Observer, compiling every stream schema along the way.
func ParseDefinition(doc []byte) (*Observer, error) {
	if len(doc) == 0 {
		return nil, errors.WrapInvalid(nil, "observer", "ParseDefinition", "definition cannot be empty")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, errors.WrapInvalid(err, "observer", "ParseDefinition", "parse definition document")
	}
	if !result.Valid() {
		var msg string
		for _, desc := range result.Errors() {
			if msg != "" {
				msg += "; "
			}
			msg += desc.String()
		}
		return nil, errors.WrapInvalid(
			fmt.Errorf("%s", msg),
			"observer", "ParseDefinition", "definition document is not valid")
	}

	var def definitionDoc
	if err := json.Unmarshal(doc, &def); err != nil {
		return nil, errors.WrapInvalid(err, "observer", "ParseDefinition", "decode definition document")
	}

	o := &Observer{
		ID:      def.ID,
		Version: def.Version,
		Owner:   def.Owner,
		streams: make(map[StreamKey]*Stream, len(def.Streams)),
	}

	for _, s := range def.Streams {
		stream, err := NewStream(s.ID, s.Version, s.Name, s.Description, string(s.Schema))
		if err != nil {
			return nil, err
		}
		key := stream.Key()
		if _, exists := o.streams[key]; exists {
			return nil, errors.WrapInvalid(
				fmt.Errorf("stream %s", key),
				"observer", "ParseDefinition", "duplicate stream id and version in definition")
		}
		o.streams[key] = stream
	}

	return o, nil
}

// NewObserver constructs an observer from already-built streams. Used by
// tests and by callers reconstructing observers from storage.
func NewObserver(id string, version int64, owner string, streams []*Stream) (*Observer, error) {
	if id == "" {
		return nil, errors.WrapInvalid(nil, "observer", "NewObserver", "observer id cannot be empty")
	}
	if version <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("version %d", version),
			"observer", "NewObserver", "observer version must be positive")
	}
	if owner == "" {
		return nil, errors.WrapInvalid(nil, "observer", "NewObserver", "owner cannot be empty")
	}
	if len(streams) == 0 {
		return nil, errors.WrapInvalid(nil, "observer", "NewObserver", "observer must define at least one stream")
	}

	o := &Observer{
		ID:      id,
		Version: version,
		Owner:   owner,
		streams: make(map[StreamKey]*Stream, len(streams)),
	}
	for _, s := range streams {
		key := s.Key()
		if _, exists := o.streams[key]; exists {
			return nil, errors.WrapInvalid(
				fmt.Errorf("stream %s", key),
				"observer", "NewObserver", "duplicate stream id and version")
		}
		o.streams[key] = s
	}
	return o, nil
}

// MarshalJSON serializes the observer in definition-document form
func (o *Observer) MarshalJSON() ([]byte, error) {
	type streamDoc struct {
		ID          string          `json:"id"`
		Version     int64           `json:"version"`
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Schema      json.RawMessage `json:"schema"`
	}
	doc := struct {
		ID      string      `json:"id"`
		Version int64       `json:"version"`
		Owner   string      `json:"owner"`
		Streams []streamDoc `json:"streams"`
	}{
		ID:      o.ID,
		Version: o.Version,
		Owner:   o.Owner,
	}
	for _, s := range o.Streams() {
		doc.Streams = append(doc.Streams, streamDoc{
			ID:          s.ID,
			Version:     s.Version,
			Name:        s.Name,
			Description: s.Description,
			Schema:      json.RawMessage(s.Schema),
		})
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reconstructs an observer stored in definition-document form
func (o *Observer) UnmarshalJSON(data []byte) error {
	var def definitionDoc
	if err := json.Unmarshal(data, &def); err != nil {
		return errors.WrapFatal(err, "observer", "UnmarshalJSON", "decode stored observer")
	}

	streams := make(map[StreamKey]*Stream, len(def.Streams))
	for _, s := range def.Streams {
		stream, err := NewStream(s.ID, s.Version, s.Name, s.Description, string(s.Schema))
		if err != nil {
			return err
		}
		streams[stream.Key()] = stream
	}

	o.ID = def.ID
	o.Version = def.Version
	o.Owner = def.Owner
	o.streams = streams
	return nil
}

// Stream returns the stream with the exact (id, version), if defined
func (o *Observer) Stream(id string, version int64) (*Stream, bool) {
	s, ok := o.streams[StreamKey{ID: id, Version: version}]
	return s, ok
}

// Streams returns all stream definitions, ordered by id then version
func (o *Observer) Streams() []*Stream {
	out := make([]*Stream, 0, len(o.streams))
	for _, s := range o.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}
