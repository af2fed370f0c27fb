package transit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrRouteNotFound signals the requested route does not exist.
	ErrRouteNotFound = errors.New("transit: route not found")
	// ErrStopNotFound signals the requested stop does not exist.
	ErrStopNotFound = errors.New("transit: stop not found")
)

// Repository provides read access to the transit network.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRoute fetches a route by its primary key.
func (r *Repository) GetRoute(ctx context.Context, id string) (Route, error) {
	const query = `
		SELECT id, route_number, route_name, transport_type
		FROM routes
		WHERE id = $1
	`

	var route Route
	err := r.pool.QueryRow(ctx, query, id).Scan(&route.ID, &route.RouteNumber, &route.RouteName, &route.TransportType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Route{}, ErrRouteNotFound
		}
		return Route{}, fmt.Errorf("transit: get route: %w", err)
	}

	return route, nil
}

// RouteExists reports whether a route row exists for the given ID.
func (r *Repository) RouteExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM routes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("transit: route exists: %w", err)
	}
	return exists, nil
}

// ListRoutes fetches routes ordered by route number, each annotated with its
// active incident count.
func (r *Repository) ListRoutes(ctx context.Context, limit int) ([]RouteWithIncidents, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT r.id, r.route_number, r.route_name, r.transport_type,
		       COUNT(i.id) FILTER (WHERE i.status = 'active')
		FROM routes r
		LEFT JOIN incidents i ON i.route_id = r.id
		GROUP BY r.id
		ORDER BY r.route_number ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("transit: list routes: %w", err)
	}
	defer rows.Close()

	routes := make([]RouteWithIncidents, 0, limit)
	for rows.Next() {
		var rec RouteWithIncidents
		if err := rows.Scan(&rec.ID, &rec.RouteNumber, &rec.RouteName, &rec.TransportType, &rec.ActiveIncidents); err != nil {
			return nil, fmt.Errorf("transit: scan route: %w", err)
		}
		routes = append(routes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transit: iterate routes: %w", err)
	}

	return routes, nil
}

// GetStop fetches a stop by its primary key.
func (r *Repository) GetStop(ctx context.Context, id string) (Stop, error) {
	const query = `
		SELECT id, stop_name, latitude, longitude
		FROM stops
		WHERE id = $1
	`

	var stop Stop
	err := r.pool.QueryRow(ctx, query, id).Scan(&stop.ID, &stop.StopName, &stop.Latitude, &stop.Longitude)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stop{}, ErrStopNotFound
		}
		return Stop{}, fmt.Errorf("transit: get stop: %w", err)
	}

	return stop, nil
}

// StopExists reports whether a stop row exists for the given ID.
func (r *Repository) StopExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stops WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("transit: stop exists: %w", err)
	}
	return exists, nil
}

// ListStops fetches stops ordered by name, each annotated with the count of
// active incidents reported at it.
func (r *Repository) ListStops(ctx context.Context, limit int) ([]StopWithIncidents, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT s.id, s.stop_name, s.latitude, s.longitude,
		       COUNT(i.id) FILTER (WHERE i.status = 'active')
		FROM stops s
		LEFT JOIN incidents i ON i.stop_id = s.id
		GROUP BY s.id
		ORDER BY s.stop_name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("transit: list stops: %w", err)
	}
	defer rows.Close()

	stops := make([]StopWithIncidents, 0, limit)
	for rows.Next() {
		var rec StopWithIncidents
		if err := rows.Scan(&rec.ID, &rec.StopName, &rec.Latitude, &rec.Longitude, &rec.NearbyIncidents); err != nil {
			return nil, fmt.Errorf("transit: scan stop: %w", err)
		}
		stops = append(stops, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transit: iterate stops: %w", err)
	}

	return stops, nil
}
