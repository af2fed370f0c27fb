package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested incident does not exist.
var ErrNotFound = errors.New("incident: not found")

const incidentColumns = `id, title, description, incident_type, severity, status,
	route_id, stop_id, reporter_id, delay_minutes, reported_at, resolved_at,
	verification_count, dispute_count`

// Repository provides data access for incident records.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Incident, error)
	GetByID(ctx context.Context, id string) (Incident, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filters Filters) ([]Incident, int, error)
	ListActiveByRoute(ctx context.Context, routeID string) ([]Incident, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Incident, error)
	Stats(ctx context.Context) (Stats, error)
}

// InsertParams contains write parameters for creating incidents.
type InsertParams struct {
	Title        string
	Description  string
	Type         Type
	Severity     Severity
	RouteID      string
	StopID       *string
	ReporterID   string
	DelayMinutes *int
}

// Filters narrows and pages incident listings.
type Filters struct {
	Status   Status
	Page     int
	PageSize int
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed incident repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert creates a new active incident inside the caller's transaction.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Incident, error) {
	insertSQL := fmt.Sprintf(`
		INSERT INTO incidents (title, description, incident_type, severity, route_id, stop_id, reporter_id, delay_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING %s
	`, incidentColumns)

	inc, err := scanIncident(tx.QueryRow(ctx, insertSQL,
		params.Title,
		params.Description,
		params.Type,
		params.Severity,
		params.RouteID,
		params.StopID,
		params.ReporterID,
		params.DelayMinutes,
	))
	if err != nil {
		return Incident{}, fmt.Errorf("incident: insert: %w", err)
	}

	return inc, nil
}

// GetByID fetches an incident by its primary key.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Incident, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM incidents WHERE id = $1`, incidentColumns)

	inc, err := scanIncident(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Incident{}, ErrNotFound
		}
		return Incident{}, fmt.Errorf("incident: get by id: %w", err)
	}

	return inc, nil
}

// Exists reports whether an incident row exists for the given ID.
func (r *PGRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("incident: exists: %w", err)
	}
	return exists, nil
}

// List returns incidents newest first, optionally filtered by status.
func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Incident, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 100
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM incidents%s ORDER BY reported_at DESC LIMIT %d OFFSET %d`,
		incidentColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("incident: list: %w", err)
	}
	defer rows.Close()

	list := []Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("incident: scan: %w", err)
		}
		list = append(list, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("incident: iterate: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM incidents%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("incident: count: %w", err)
	}

	return list, total, nil
}

// ListActiveByRoute returns the active incidents reported against a route.
func (r *PGRepository) ListActiveByRoute(ctx context.Context, routeID string) ([]Incident, error) {
	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE route_id = $1 AND status = 'active' ORDER BY reported_at DESC`, incidentColumns)

	rows, err := r.pool.Query(ctx, query, routeID)
	if err != nil {
		return nil, fmt.Errorf("incident: list by route: %w", err)
	}
	defer rows.Close()

	list := []Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("incident: scan: %w", err)
		}
		list = append(list, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("incident: iterate: %w", err)
	}

	return list, nil
}

// UpdateStatus sets the incident status. The resolution timestamp is stamped
// the first time the incident transitions to resolved and never overwritten.
func (r *PGRepository) UpdateStatus(ctx context.Context, id string, status Status) (Incident, error) {
	updateSQL := fmt.Sprintf(`
		UPDATE incidents
		SET status = $2,
		    resolved_at = CASE WHEN $2 = 'resolved' THEN COALESCE(resolved_at, now()) ELSE resolved_at END
		WHERE id = $1
		RETURNING %s
	`, incidentColumns)

	inc, err := scanIncident(r.pool.QueryRow(ctx, updateSQL, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Incident{}, ErrNotFound
		}
		return Incident{}, fmt.Errorf("incident: update status: %w", err)
	}

	return inc, nil
}

// Stats aggregates incident counts by status, type, and severity.
func (r *PGRepository) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
	}

	const totalsSQL = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'resolved')
		FROM incidents
	`
	if err := r.pool.QueryRow(ctx, totalsSQL).Scan(&stats.TotalIncidents, &stats.ActiveIncidents, &stats.ResolvedIncidents); err != nil {
		return Stats{}, fmt.Errorf("incident: stats totals: %w", err)
	}

	if err := r.groupCounts(ctx, `SELECT incident_type, COUNT(*) FROM incidents GROUP BY incident_type`, stats.ByType); err != nil {
		return Stats{}, err
	}
	if err := r.groupCounts(ctx, `SELECT severity, COUNT(*) FROM incidents GROUP BY severity`, stats.BySeverity); err != nil {
		return Stats{}, err
	}

	return stats, nil
}

func (r *PGRepository) groupCounts(ctx context.Context, query string, dest map[string]int) error {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("incident: stats group: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("incident: stats scan: %w", err)
		}
		dest[key] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("incident: stats iterate: %w", err)
	}
	return nil
}

func scanIncident(row pgx.Row) (Incident, error) {
	var inc Incident
	err := row.Scan(
		&inc.ID,
		&inc.Title,
		&inc.Description,
		&inc.Type,
		&inc.Severity,
		&inc.Status,
		&inc.RouteID,
		&inc.StopID,
		&inc.ReporterID,
		&inc.DelayMinutes,
		&inc.ReportedAt,
		&inc.ResolvedAt,
		&inc.VerificationCount,
		&inc.DisputeCount,
	)
	if err != nil {
		return Incident{}, err
	}
	return inc, nil
}
