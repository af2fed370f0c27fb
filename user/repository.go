package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the user does not exist.
	ErrNotFound = errors.New("user: not found")
	// ErrDuplicateUsername signals that the username is already taken.
	ErrDuplicateUsername = errors.New("user: username already exists")
)

// Repository handles data access for user accounts and the points ledger.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (User, error)
	GetByID(ctx context.Context, userID string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	Exists(ctx context.Context, userID string) (bool, error)
	AddPoints(ctx context.Context, userID string, delta int) (int, error)
}

// CreateParams contains write parameters for creating users.
type CreateParams struct {
	Username     string
	PasswordHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed user repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a new user account.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, points, created_at
	`

	u, err := scanUser(r.pool.QueryRow(ctx, insertSQL, params.Username, params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateUsername
		}
		return User{}, fmt.Errorf("user: create: %w", err)
	}

	return u, nil
}

// GetByID retrieves a user by ID.
func (r *PGRepository) GetByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `
		SELECT id, username, password_hash, points, created_at
		FROM users
		WHERE id = $1
	`

	u, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("user: get by id: %w", err)
	}

	return u, nil
}

// GetByUsername retrieves a user by username.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	const selectSQL = `
		SELECT id, username, password_hash, points, created_at
		FROM users
		WHERE username = $1
	`

	u, err := scanUser(r.pool.QueryRow(ctx, selectSQL, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("user: get by username: %w", err)
	}

	return u, nil
}

// Exists reports whether a user row exists for the given ID.
func (r *PGRepository) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("user: exists: %w", err)
	}
	return exists, nil
}

// AddPoints atomically credits delta points to the user and returns the new
// total. The single UPDATE makes concurrent grants safe without explicit
// locking; there is no read-modify-write window.
func (r *PGRepository) AddPoints(ctx context.Context, userID string, delta int) (int, error) {
	const updateSQL = `
		UPDATE users
		SET points = points + $2
		WHERE id = $1
		RETURNING points
	`

	var total int
	if err := r.pool.QueryRow(ctx, updateSQL, userID, delta).Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("user: add points: %w", err)
	}

	return total, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.Points,
		&u.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return u, nil
}
