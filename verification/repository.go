package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"transitwatch/incident"
)

var (
	// ErrDuplicateVote signals the (incident, user) pair has already voted.
	ErrDuplicateVote = errors.New("verification: user has already voted on this incident")
	// ErrIncidentNotFound is returned when no incident row exists for the identifier.
	ErrIncidentNotFound = errors.New("verification: incident not found")
)

// Repository defines the data access required by the consensus engine. All
// mutating methods run inside the caller's transaction so that the duplicate
// check, the vote insert, and the tally update commit or roll back together.
type Repository interface {
	GetIncidentForUpdate(ctx context.Context, tx pgx.Tx, incidentID string) (incident.Incident, error)
	InsertVote(ctx context.Context, tx pgx.Tx, req SubmitVoteRequest) (Vote, error)
	UpdateTally(ctx context.Context, tx pgx.Tx, incidentID string, verificationCount, disputeCount int, status incident.Status) error
	ListByIncident(ctx context.Context, incidentID string) ([]Vote, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed verification repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetIncidentForUpdate locks the incident row for the duration of the
// transaction. The row lock is the per-incident serialization boundary: two
// vote submissions on the same incident queue here, while votes on different
// incidents proceed in parallel.
func (r *PGRepository) GetIncidentForUpdate(ctx context.Context, tx pgx.Tx, incidentID string) (incident.Incident, error) {
	const selectSQL = `
		SELECT id, title, description, incident_type, severity, status,
		       route_id, stop_id, reporter_id, delay_minutes, reported_at, resolved_at,
		       verification_count, dispute_count
		FROM incidents
		WHERE id = $1
		FOR UPDATE
	`

	var inc incident.Incident
	err := tx.QueryRow(ctx, selectSQL, incidentID).Scan(
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
		if errors.Is(err, pgx.ErrNoRows) {
			return incident.Incident{}, ErrIncidentNotFound
		}
		return incident.Incident{}, fmt.Errorf("verification: lock incident: %w", err)
	}

	return inc, nil
}

// InsertVote persists the immutable vote row. The unique index on
// (incident_id, user_id) is the vote registry: a second insert for the same
// pair fails with ErrDuplicateVote and the surrounding transaction rolls
// back, leaving no trace of the rejected request.
func (r *PGRepository) InsertVote(ctx context.Context, tx pgx.Tx, req SubmitVoteRequest) (Vote, error) {
	const insertSQL = `
		INSERT INTO verifications (incident_id, user_id, is_verified, comment)
		VALUES ($1, $2, $3, $4)
		RETURNING id, incident_id, user_id, is_verified, comment, verified_at
	`

	v, err := scanVote(tx.QueryRow(ctx, insertSQL, req.IncidentID, req.UserID, req.Confirmed, req.Comment))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Vote{}, ErrDuplicateVote
		}
		return Vote{}, fmt.Errorf("verification: insert vote: %w", err)
	}

	return v, nil
}

// UpdateTally writes the new counts and derived status for a locked incident.
func (r *PGRepository) UpdateTally(ctx context.Context, tx pgx.Tx, incidentID string, verificationCount, disputeCount int, status incident.Status) error {
	const updateSQL = `
		UPDATE incidents
		SET verification_count = $2,
		    dispute_count = $3,
		    status = $4
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, updateSQL, incidentID, verificationCount, disputeCount, status)
	if err != nil {
		return fmt.Errorf("verification: update tally: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("verification: update tally: incident %s vanished mid-transaction", incidentID)
	}

	return nil
}

// ListByIncident returns the votes cast on an incident, oldest first.
func (r *PGRepository) ListByIncident(ctx context.Context, incidentID string) ([]Vote, error) {
	const selectSQL = `
		SELECT id, incident_id, user_id, is_verified, comment, verified_at
		FROM verifications
		WHERE incident_id = $1
		ORDER BY verified_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, selectSQL, incidentID)
	if err != nil {
		return nil, fmt.Errorf("verification: list: %w", err)
	}
	defer rows.Close()

	votes := []Vote{}
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("verification: scan: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verification: iterate: %w", err)
	}

	return votes, nil
}

func scanVote(row pgx.Row) (Vote, error) {
	var v Vote
	err := row.Scan(
		&v.ID,
		&v.IncidentID,
		&v.UserID,
		&v.Confirmed,
		&v.Comment,
		&v.VerifiedAt,
	)
	if err != nil {
		return Vote{}, err
	}
	return v, nil
}
