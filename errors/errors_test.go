package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorConflict, "conflict"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.class.String())
	}
}

func TestWrapFormatsContext(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "pointbin", "AddPoints", "create point")

	require.Error(t, err)
	assert.Equal(t, "pointbin.AddPoints: create point failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapConflict(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestWrapInvalidNilBecomesInvalidArgument(t *testing.T) {
	err := WrapInvalid(nil, "streambin", "AddStream", "stream cannot be nil")

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrInvalidArgument))
	assert.True(t, IsInvalid(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{
			name: "duplicate stream is a conflict",
			err:  fmt.Errorf("register: %w", ErrDuplicateStream),
			want: ErrorConflict,
		},
		{
			name: "duplicate unit is a conflict",
			err:  ErrDuplicateUnit,
			want: ErrorConflict,
		},
		{
			name: "malformed payload is invalid",
			err:  fmt.Errorf("decode: %w", ErrMalformedPayload),
			want: ErrorInvalid,
		},
		{
			name: "schema mismatch is invalid",
			err:  ErrSchemaMismatch,
			want: ErrorInvalid,
		},
		{
			name: "broken metadata is invalid",
			err:  ErrInvalidMetadata,
			want: ErrorInvalid,
		},
		{
			name: "storage unavailable is transient",
			err:  ErrStorageUnavailable,
			want: ErrorTransient,
		},
		{
			name: "unknown errors default to transient",
			err:  stderrors.New("something odd"),
			want: ErrorTransient,
		},
		{
			name: "wrapped fatal stays fatal",
			err:  WrapFatal(stderrors.New("corrupt record"), "pointbin", "Get", "unmarshal"),
			want: ErrorFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := stderrors.New("base")
	err := WrapConflict(base, "streambin", "AddStream", "create")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorConflict, ce.Class)
	assert.Equal(t, "streambin", ce.Component)
	assert.True(t, stderrors.Is(err, base))
}

func TestIsTransientHonoursClassificationOverPatterns(t *testing.T) {
	// "connection" would pattern-match transient, but an explicit
	// invalid classification wins.
	err := WrapInvalid(stderrors.New("connection string malformed"), "config", "Validate", "parse")
	assert.False(t, IsTransient(err))
	assert.True(t, IsInvalid(err))
}
