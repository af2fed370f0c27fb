package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrRouteNotFound signals the referenced route does not exist.
	ErrRouteNotFound = errors.New("incident: route not found")
	// ErrStopNotFound signals the referenced stop does not exist.
	ErrStopNotFound = errors.New("incident: stop not found")
	// ErrReporterNotFound signals the reporting user does not exist.
	ErrReporterNotFound = errors.New("incident: reporter not found")
	// ErrInvalidStatus signals a status outside the incident lifecycle.
	ErrInvalidStatus = errors.New("incident: invalid status")
	// ErrInvalidInput signals a report that fails field validation.
	ErrInvalidInput = errors.New("incident: invalid input")
	// ErrRewardNotApplied marks an incident that committed but whose report
	// reward could not be credited. The incident stands; the grant is a plain
	// atomic increment and may be replayed by an operator sweep that compares
	// ledger totals against the incidents table.
	ErrRewardNotApplied = errors.New("incident: reward not applied")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NetworkChecker verifies route and stop references against the transit network.
type NetworkChecker interface {
	RouteExists(ctx context.Context, routeID string) (bool, error)
	StopExists(ctx context.Context, stopID string) (bool, error)
}

// Ledger grants reward points to users.
type Ledger interface {
	GrantPoints(ctx context.Context, userID string, amount int) (int, error)
	Exists(ctx context.Context, userID string) (bool, error)
}

// Service handles incident reporting and lifecycle business logic.
type Service struct {
	pool         TxBeginner
	repo         Repository
	network      NetworkChecker
	ledger       Ledger
	reportReward int
}

// CreateParams enumerates the caller-supplied fields of a new report.
type CreateParams struct {
	Title        string
	Description  string
	Type         Type
	Severity     Severity
	RouteID      string
	StopID       *string
	ReporterID   string
	DelayMinutes *int
}

// ListResult bundles a page of incidents with the total match count.
type ListResult struct {
	Items []Incident
	Total int
}

// NewService builds an incident service. reportReward points are credited to
// the reporter once per successfully created incident.
func NewService(pool TxBeginner, repo Repository, network NetworkChecker, ledger Ledger, reportReward int) *Service {
	return &Service{
		pool:         pool,
		repo:         repo,
		network:      network,
		ledger:       ledger,
		reportReward: reportReward,
	}
}

// Create validates and persists a new incident report, then credits the
// submission reward to the reporter. The reward is an independent atomic
// increment after the insert commits; creation itself is assumed to be a
// single event with no duplicate-submission guard. If the grant fails, the
// returned incident is still valid and the error wraps ErrRewardNotApplied.
func (s *Service) Create(ctx context.Context, params CreateParams) (Incident, error) {
	if err := s.validate(ctx, &params); err != nil {
		return Incident{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Incident{}, fmt.Errorf("incident: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inc, err := s.repo.Insert(ctx, tx, InsertParams{
		Title:        params.Title,
		Description:  params.Description,
		Type:         params.Type,
		Severity:     params.Severity,
		RouteID:      params.RouteID,
		StopID:       params.StopID,
		ReporterID:   params.ReporterID,
		DelayMinutes: params.DelayMinutes,
	})
	if err != nil {
		return Incident{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Incident{}, fmt.Errorf("incident: commit: %w", err)
	}

	if s.ledger != nil && s.reportReward > 0 {
		if _, err := s.ledger.GrantPoints(ctx, params.ReporterID, s.reportReward); err != nil {
			return inc, fmt.Errorf("%w: %w", ErrRewardNotApplied, err)
		}
	}

	return inc, nil
}

// Get fetches one incident.
func (s *Service) Get(ctx context.Context, id string) (Incident, error) {
	if uuid.Validate(id) != nil {
		return Incident{}, ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// Exists reports whether the incident exists.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, nil
	}
	return s.repo.Exists(ctx, id)
}

// List returns incidents newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	if filters.Status != "" && !ValidStatus(filters.Status) {
		return ListResult{}, ErrInvalidStatus
	}
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// ListActiveByRoute returns the active incidents on a route.
func (s *Service) ListActiveByRoute(ctx context.Context, routeID string) ([]Incident, error) {
	if uuid.Validate(routeID) != nil {
		return nil, nil
	}
	return s.repo.ListActiveByRoute(ctx, routeID)
}

// UpdateStatus applies an operator status change. Setting resolved stamps the
// resolution timestamp exactly once; tallying continues afterwards but crowd
// consensus no longer overrides the status.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (Incident, error) {
	if !ValidStatus(status) {
		return Incident{}, ErrInvalidStatus
	}
	if uuid.Validate(id) != nil {
		return Incident{}, ErrNotFound
	}
	return s.repo.UpdateStatus(ctx, id, status)
}

// Stats aggregates incident counts by status, type, and severity.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

func (s *Service) validate(ctx context.Context, params *CreateParams) error {
	params.Title = strings.TrimSpace(params.Title)
	params.Description = strings.TrimSpace(params.Description)

	if len(params.Title) < 5 || len(params.Title) > 200 {
		return fmt.Errorf("%w: title must be 5 to 200 characters", ErrInvalidInput)
	}
	if len(params.Description) < 10 {
		return fmt.Errorf("%w: description must be at least 10 characters", ErrInvalidInput)
	}
	if !ValidType(params.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidInput, params.Type)
	}
	if !ValidSeverity(params.Severity) {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, params.Severity)
	}
	if params.DelayMinutes != nil && (*params.DelayMinutes < 0 || *params.DelayMinutes > 999) {
		return fmt.Errorf("%w: delay minutes must be 0 to 999", ErrInvalidInput)
	}
	if uuid.Validate(params.RouteID) != nil {
		return ErrRouteNotFound
	}
	if uuid.Validate(params.ReporterID) != nil {
		return ErrReporterNotFound
	}
	if params.StopID != nil && uuid.Validate(*params.StopID) != nil {
		return ErrStopNotFound
	}

	ok, err := s.network.RouteExists(ctx, params.RouteID)
	if err != nil {
		return fmt.Errorf("incident: check route: %w", err)
	}
	if !ok {
		return ErrRouteNotFound
	}

	if params.StopID != nil {
		ok, err := s.network.StopExists(ctx, *params.StopID)
		if err != nil {
			return fmt.Errorf("incident: check stop: %w", err)
		}
		if !ok {
			return ErrStopNotFound
		}
	}

	ok, err = s.ledger.Exists(ctx, params.ReporterID)
	if err != nil {
		return fmt.Errorf("incident: check reporter: %w", err)
	}
	if !ok {
		return ErrReporterNotFound
	}

	return nil
}
