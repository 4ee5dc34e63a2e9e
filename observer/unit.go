package observer

import (
	"fmt"
	"strings"

	"github.com/c360/streambank/errors"
)

// ValidatedUnit is a data point whose payload passed structural validation
// against one specific stream schema version. It keeps the original bytes,
// never the decoded tree, and a lookup key to its stream rather than a copy
// of the schema. Immutable after creation.
type ValidatedUnit struct {
	Stream        StreamKey
	Meta          *MetaData // nil when the point carried no metadata
	Payload       []byte
	AttachmentIDs []string
}

// Decode validates a raw binary payload against the stream's schema and
// wraps it, together with best-effort metadata from the side document, into
// a ValidatedUnit. Decoding is pure: the same (schema, bytes) pair always
// yields the same outcome.
//
// Failure modes: a truncated or over-length buffer yields
// errors.ErrMalformedPayload; a buffer that reads completely but is
// structurally inconsistent with the schema yields errors.ErrSchemaMismatch;
// a present-but-broken metadata field yields errors.ErrInvalidMetadata.
func Decode(stream *Stream, metaDoc map[string]any, data []byte) (*ValidatedUnit, error) {
	if stream == nil {
		return nil, errors.WrapInvalid(nil, "observer", "Decode", "stream cannot be nil")
	}

	meta, err := ParseMetaData(metaDoc)
	if err != nil {
		return nil, err
	}

	codec, err := stream.Codec()
	if err != nil {
		return nil, err
	}

	// Single-pass structural decode. The decoded value is discarded; only
	// conformance matters here.
	_, rest, err := codec.NativeFromBinary(data)
	if err != nil {
		return nil, classifyDecodeError(stream.Key(), err)
	}
	if len(rest) > 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d trailing bytes after decoding against stream %s",
				errors.ErrMalformedPayload, len(rest), stream.Key()),
			"observer", "Decode", "validate payload")
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	return &ValidatedUnit{
		Stream:  stream.Key(),
		Meta:    meta,
		Payload: payload,
	}, nil
}

// WithAttachments returns a copy of the unit referencing the given
// attachment ids.
func (u *ValidatedUnit) WithAttachments(ids ...string) *ValidatedUnit {
	dup := *u
	dup.AttachmentIDs = append([]string(nil), ids...)
	return &dup
}

// classifyDecodeError separates buffer-exhaustion failures from structural
// ones. goavro reports running out of bytes with "short buffer" (or a bare
// EOF); everything else means the bytes disagree with the schema.
func classifyDecodeError(key StreamKey, err error) error {
	msg := strings.ToLower(err.Error())
	kind := errors.ErrSchemaMismatch
	if strings.Contains(msg, "short buffer") ||
		strings.Contains(msg, "buffer underflow") ||
		strings.Contains(msg, "eof") {
		kind = errors.ErrMalformedPayload
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: stream %s: %v", kind, key, err),
		"observer", "Decode", "validate payload")
}
