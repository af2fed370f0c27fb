package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrUserNotFound signals the voting user does not exist.
	ErrUserNotFound = errors.New("verification: user not found")
	// ErrRewardNotApplied marks a vote that committed but whose confirm
	// reward could not be credited. The vote stands; the reward grant is a
	// plain atomic increment and may be replayed by an operator sweep that
	// compares ledger totals against the verifications table.
	ErrRewardNotApplied = errors.New("verification: reward not applied")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger grants reward points to voting users.
type Ledger interface {
	GrantPoints(ctx context.Context, userID string, amount int) (int, error)
	Exists(ctx context.Context, userID string) (bool, error)
}

// Service is the consensus engine. It serializes vote processing per
// incident (via the repository's row lock), enforces one vote per
// (incident, user) pair, derives the crowd-consensus status, and issues the
// confirm reward exactly once per accepted vote.
type Service struct {
	pool          TxBeginner
	repo          Repository
	ledger        Ledger
	confirmReward int
}

// NewService builds the consensus engine. confirmReward points are credited
// for each accepted confirming vote; disputes earn nothing.
func NewService(pool TxBeginner, repo Repository, ledger Ledger, confirmReward int) *Service {
	return &Service{
		pool:          pool,
		repo:          repo,
		ledger:        ledger,
		confirmReward: confirmReward,
	}
}

// SubmitVote processes one vote request. The duplicate check, the vote
// insert, and the tally-plus-status update commit as one transaction under
// the incident's row lock; a duplicate rolls the whole transaction back so
// a rejected request leaves no state change anywhere. The confirm reward is
// a separate atomic increment issued only after the vote commits, so a
// reward can never exist without its vote. If the reward grant fails, the
// returned outcome is still valid and the error wraps ErrRewardNotApplied.
func (s *Service) SubmitVote(ctx context.Context, req SubmitVoteRequest) (Outcome, error) {
	if err := uuid.Validate(req.IncidentID); err != nil {
		return Outcome{}, ErrIncidentNotFound
	}
	if err := uuid.Validate(req.UserID); err != nil {
		return Outcome{}, ErrUserNotFound
	}

	ok, err := s.ledger.Exists(ctx, req.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("verification: check user: %w", err)
	}
	if !ok {
		return Outcome{}, ErrUserNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("verification: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inc, err := s.repo.GetIncidentForUpdate(ctx, tx, req.IncidentID)
	if err != nil {
		return Outcome{}, err
	}

	vote, err := s.repo.InsertVote(ctx, tx, req)
	if err != nil {
		return Outcome{}, err
	}

	verificationCount := inc.VerificationCount
	disputeCount := inc.DisputeCount
	if req.Confirmed {
		verificationCount++
	} else {
		disputeCount++
	}
	status := DeriveStatus(inc.Status, verificationCount, disputeCount)

	if err := s.repo.UpdateTally(ctx, tx, req.IncidentID, verificationCount, disputeCount, status); err != nil {
		return Outcome{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("verification: commit tx: %w", err)
	}

	outcome := Outcome{
		Vote:              vote,
		VerificationCount: verificationCount,
		DisputeCount:      disputeCount,
		Status:            status,
	}

	if req.Confirmed && s.confirmReward > 0 {
		if _, err := s.ledger.GrantPoints(ctx, req.UserID, s.confirmReward); err != nil {
			return outcome, fmt.Errorf("%w: %w", ErrRewardNotApplied, err)
		}
	}

	return outcome, nil
}

// ListByIncident returns the votes cast on an incident.
func (s *Service) ListByIncident(ctx context.Context, incidentID string) ([]Vote, error) {
	return s.repo.ListByIncident(ctx, incidentID)
}
