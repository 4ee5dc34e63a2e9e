package ingest

import (
	"context"
	"fmt"

	"github.com/c360/streambank/errors"
	"github.com/c360/streambank/pointbin"
)

func permissionDenied(method, requester string) error {
	return errors.WrapInvalid(
		fmt.Errorf("requester %s: %w", requester, errors.ErrPermissionDenied),
		"ingest", method, "read not permitted")
}

// Query runs a permission-guarded point query. When the query names owners,
// the requester must be allowed to read each of them; an unscoped query
// requires the all-owners permission for the stream.
func (s *Service) Query(ctx context.Context, requester string, params pointbin.QueryParams) (*pointbin.Page, error) {
	if requester == "" {
		return nil, errors.WrapInvalid(nil, "ingest", "Query", "requester is required")
	}

	if params.Owners == nil {
		if !s.allowRead(requester, "", params.StreamID) {
			return nil, permissionDenied("Query", requester)
		}
	} else {
		for _, owner := range params.Owners {
			if !s.allowRead(requester, owner, params.StreamID) {
				return nil, permissionDenied("Query", requester)
			}
		}
	}

	return s.points.Query(ctx, params)
}

// GetPoint is a permission-guarded exact point lookup
func (s *Service) GetPoint(ctx context.Context, requester, owner, streamID string, streamVersion int64, pointID string) (*pointbin.Point, bool, error) {
	if requester == "" {
		return nil, false, errors.WrapInvalid(nil, "ingest", "GetPoint", "requester is required")
	}
	if !s.allowRead(requester, owner, streamID) {
		return nil, false, permissionDenied("GetPoint", requester)
	}
	return s.points.GetPoint(ctx, owner, streamID, streamVersion, pointID)
}

// DeletePoint removes one point. Only the owner may delete their own data;
// deleting an absent point is a no-op.
func (s *Service) DeletePoint(ctx context.Context, requester, owner, streamID string, streamVersion int64, pointID string) error {
	if requester == "" {
		return errors.WrapInvalid(nil, "ingest", "DeletePoint", "requester is required")
	}
	if requester != owner {
		return errors.WrapInvalid(
			fmt.Errorf("requester %s is not owner %s: %w", requester, owner, errors.ErrPermissionDenied),
			"ingest", "DeletePoint", "only the owner may delete a point")
	}
	return s.points.DeletePoint(ctx, owner, streamID, streamVersion, pointID)
}

// PointForAttachment resolves an attachment id to its owning point, subject
// to the requester being allowed to read that point's owner.
func (s *Service) PointForAttachment(ctx context.Context, requester, attachmentID string) (*pointbin.Point, bool, error) {
	if requester == "" {
		return nil, false, errors.WrapInvalid(nil, "ingest", "PointForAttachment", "requester is required")
	}

	p, found, err := s.points.PointForAttachment(ctx, attachmentID)
	if err != nil || !found {
		return nil, false, err
	}
	if !s.allowRead(requester, p.Owner, p.StreamID) {
		return nil, false, permissionDenied("PointForAttachment", requester)
	}
	return p, true, nil
}
