package pointbin

import (
	"sort"

	"github.com/c360/streambank/errors"
)

// Projection column names accepted by QueryParams.Projection.
const (
	ColOwner         = "owner"
	ColStreamID      = "stream_id"
	ColStreamVersion = "stream_version"
	ColPointID       = "point_id"
	ColTime          = "time"
	ColLocation      = "location"
	ColUploadedAt    = "uploaded_at"
	ColPayload       = "payload"
	ColAttachments   = "attachments"
)

var projectionColumns = map[string]bool{
	ColOwner:         true,
	ColStreamID:      true,
	ColStreamVersion: true,
	ColPointID:       true,
	ColTime:          true,
	ColLocation:      true,
	ColUploadedAt:    true,
	ColPayload:       true,
	ColAttachments:   true,
}

// QueryParams filters and shapes a point query. A nil Owners or PointIDs
// slice means "no restriction"; an empty non-nil slice means "match nothing",
// so callers can distinguish "everyone" from an explicit empty set.
type QueryParams struct {
	StreamID      string
	StreamVersion int64

	Owners   []string
	PointIDs []string

	// Start and End bound EffectiveTime in epoch milliseconds, inclusive.
	// Zero means unbounded on that side.
	Start int64
	End   int64

	// Projection selects output columns; nil returns full points.
	Projection []string

	// Chronological orders ascending by effective time; false is descending.
	// Ties are broken by point id ascending either way.
	Chronological bool

	Skip  int
	Limit int
}

// Validate rejects parameter combinations the repository cannot serve.
func (q *QueryParams) Validate() error {
	if q.StreamID == "" {
		return errors.WrapInvalid(nil, "pointbin", "Query", "stream id is required")
	}
	if q.StreamVersion < 1 {
		return errors.WrapInvalid(nil, "pointbin", "Query", "stream version must be positive")
	}
	if q.Skip < 0 || q.Limit < 0 {
		return errors.WrapInvalid(nil, "pointbin", "Query", "skip and limit must be non-negative")
	}
	for _, col := range q.Projection {
		if !projectionColumns[col] {
			return errors.WrapInvalid(nil, "pointbin", "Query", "unknown projection column "+col)
		}
	}
	return nil
}

// Result is either a FullResult or a ProjectedResult depending on whether
// the query asked for a projection.
type Result interface {
	resultMarker()
}

// FullResult carries the complete stored point.
type FullResult struct {
	Point *Point
}

func (FullResult) resultMarker() {}

// ProjectedResult carries only the requested columns.
type ProjectedResult struct {
	Columns map[string]any
}

func (ProjectedResult) resultMarker() {}

// Page is one page of query results. Total counts all matches before
// pagination so callers can compute page counts.
type Page struct {
	Results []Result
	Total   int
	HasMore bool
}

func (q *QueryParams) matches(p *Point) bool {
	if p.StreamID != q.StreamID || p.StreamVersion != q.StreamVersion {
		return false
	}
	if q.Owners != nil && !containsString(q.Owners, p.Owner) {
		return false
	}
	if q.PointIDs != nil && !containsString(q.PointIDs, p.PointID) {
		return false
	}
	t := p.EffectiveTime()
	if q.Start != 0 && t < q.Start {
		return false
	}
	if q.End != 0 && t > q.End {
		return false
	}
	return true
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func orderPoints(points []*Point, chronological bool) {
	sort.Slice(points, func(i, j int) bool {
		ti, tj := points[i].EffectiveTime(), points[j].EffectiveTime()
		if ti != tj {
			if chronological {
				return ti < tj
			}
			return ti > tj
		}
		return points[i].PointID < points[j].PointID
	})
}

// buildPage orders, paginates, and projects an already-filtered match set.
func buildPage(matches []*Point, q *QueryParams) *Page {
	orderPoints(matches, q.Chronological)

	total := len(matches)
	if q.Skip >= total {
		matches = nil
	} else {
		matches = matches[q.Skip:]
	}
	hasMore := false
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
		hasMore = true
	}

	page := &Page{
		Results: make([]Result, 0, len(matches)),
		Total:   total,
		HasMore: hasMore,
	}
	for _, p := range matches {
		page.Results = append(page.Results, project(p, q.Projection))
	}
	return page
}

func project(p *Point, columns []string) Result {
	if columns == nil {
		return FullResult{Point: p}
	}
	cols := make(map[string]any, len(columns))
	for _, c := range columns {
		switch c {
		case ColOwner:
			cols[c] = p.Owner
		case ColStreamID:
			cols[c] = p.StreamID
		case ColStreamVersion:
			cols[c] = p.StreamVersion
		case ColPointID:
			cols[c] = p.PointID
		case ColTime:
			cols[c] = p.Time
		case ColLocation:
			cols[c] = p.Location
		case ColUploadedAt:
			cols[c] = p.UploadedAt
		case ColPayload:
			cols[c] = p.Payload
		case ColAttachments:
			cols[c] = p.AttachmentIDs
		}
	}
	return ProjectedResult{Columns: cols}
}
