package transit

import (
	"context"

	"github.com/google/uuid"
)

// NetworkReader abstracts repository operations for the service.
type NetworkReader interface {
	GetRoute(ctx context.Context, id string) (Route, error)
	RouteExists(ctx context.Context, id string) (bool, error)
	ListRoutes(ctx context.Context, limit int) ([]RouteWithIncidents, error)
	GetStop(ctx context.Context, id string) (Stop, error)
	StopExists(ctx context.Context, id string) (bool, error)
	ListStops(ctx context.Context, limit int) ([]StopWithIncidents, error)
}

// Service exposes read-only transit network operations.
type Service struct {
	repo NetworkReader
}

// NewService builds a Service using the provided repository.
func NewService(repo NetworkReader) *Service {
	return &Service{repo: repo}
}

// GetRoute returns the route for the given identifier.
func (s *Service) GetRoute(ctx context.Context, id string) (Route, error) {
	if uuid.Validate(id) != nil {
		return Route{}, ErrRouteNotFound
	}
	return s.repo.GetRoute(ctx, id)
}

// RouteExists reports whether the route exists.
func (s *Service) RouteExists(ctx context.Context, id string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, nil
	}
	return s.repo.RouteExists(ctx, id)
}

// ListRoutes returns up to limit routes with their active incident counts.
func (s *Service) ListRoutes(ctx context.Context, limit int) ([]RouteWithIncidents, error) {
	return s.repo.ListRoutes(ctx, limit)
}

// GetStop returns the stop for the given identifier.
func (s *Service) GetStop(ctx context.Context, id string) (Stop, error) {
	if uuid.Validate(id) != nil {
		return Stop{}, ErrStopNotFound
	}
	return s.repo.GetStop(ctx, id)
}

// StopExists reports whether the stop exists.
func (s *Service) StopExists(ctx context.Context, id string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, nil
	}
	return s.repo.StopExists(ctx, id)
}

// ListStops returns up to limit stops with their nearby incident counts.
func (s *Service) ListStops(ctx context.Context, limit int) ([]StopWithIncidents, error) {
	return s.repo.ListStops(ctx, limit)
}
