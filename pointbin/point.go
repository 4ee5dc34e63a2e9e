package pointbin

import (
	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/observer"
)

// Point is a stored data point. Identity is (Owner, StreamID, StreamVersion,
// PointID); everything else is payload. Points are immutable once stored.
type Point struct {
	Owner         string `json:"owner"`
	StreamID      string `json:"stream_id"`
	StreamVersion int64  `json:"stream_version"`
	PointID       string `json:"point_id"`

	// Time is the collector-supplied timestamp in epoch milliseconds,
	// zero when the point carried no timestamp.
	Time     int64              `json:"time,omitempty"`
	Location *observer.Location `json:"location,omitempty"`

	// UploadedAt is set by the repository at insertion time.
	UploadedAt int64 `json:"uploaded_at"`

	Payload       []byte   `json:"payload"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

// EffectiveTime is the timestamp used for query ordering: the collector
// timestamp when present, otherwise the upload time.
func (p *Point) EffectiveTime() int64 {
	if p.Time != 0 {
		return p.Time
	}
	return p.UploadedAt
}

// Validate checks the fields that form the point's identity.
func (p *Point) Validate() error {
	if p == nil {
		return errors.WrapInvalid(nil, "pointbin", "Validate", "point is nil")
	}
	if p.Owner == "" {
		return errors.WrapInvalid(nil, "pointbin", "Validate", "owner is required")
	}
	if p.StreamID == "" {
		return errors.WrapInvalid(nil, "pointbin", "Validate", "stream id is required")
	}
	if p.StreamVersion < 1 {
		return errors.WrapInvalid(nil, "pointbin", "Validate", "stream version must be positive")
	}
	if p.PointID == "" {
		return errors.WrapInvalid(nil, "pointbin", "Validate", "point id is required")
	}
	return nil
}

// FromUnit builds a Point from a validated unit plus the caller-supplied
// identity fields. UploadedAt is left zero; the repository stamps it.
func FromUnit(owner, pointID string, unit *observer.ValidatedUnit) (*Point, error) {
	if unit == nil {
		return nil, errors.WrapInvalid(nil, "pointbin", "FromUnit", "unit is nil")
	}
	p := &Point{
		Owner:         owner,
		StreamID:      unit.Stream.ID,
		StreamVersion: unit.Stream.Version,
		PointID:       pointID,
		Payload:       unit.Payload,
		AttachmentIDs: unit.AttachmentIDs,
	}
	if unit.Meta != nil {
		if unit.Meta.HasTimestamp() {
			p.Time = unit.Meta.Timestamp.UnixMilli()
		}
		p.Location = unit.Meta.Location
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
