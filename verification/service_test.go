package verification

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"transitwatch/incident"
)

// Fixture IDs. SubmitVote rejects non-UUID identifiers before touching
// storage, so the fakes are keyed by well-formed UUIDs.
const (
	incidentA       = "9f3a2c64-1d5e-4b7a-9c0d-8e6f5a4b3c2d"
	missingIncident = "1a2b3c4d-5e6f-4a0b-8c1d-2e3f4a5b6c7d"
	userA           = "4d9c1e22-7b3f-4a58-8e1d-2c5b6a7f8d90"
	userB           = "b1c2d3e4-f5a6-4788-99aa-bbccddeeff00"
	ghostUser       = "7e6d5c4b-3a29-4817-a605-f4e3d2c1b0a9"
)

func TestSubmitVote_ConfirmSuccess(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{inc: incident.Incident{ID: incidentA, Status: incident.StatusActive}}
	ledger := newFakeLedger(userA)
	svc := NewService(pool, repo, ledger, 2)

	out, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: incidentA,
		UserID:     userA,
		Confirmed:  true,
	})
	if err != nil {
		t.Fatalf("submit vote: %v", err)
	}

	if out.VerificationCount != 1 || out.DisputeCount != 0 {
		t.Fatalf("unexpected tally: (%d, %d)", out.VerificationCount, out.DisputeCount)
	}
	if out.Status != incident.StatusActive {
		t.Fatalf("expected status active below threshold, got %s", out.Status)
	}
	if !pool.tx.committed {
		t.Error("expected transaction to commit")
	}
	if ledger.points[userA] != 2 {
		t.Errorf("expected 2 points granted, got %d", ledger.points[userA])
	}
	if ledger.grants != 1 {
		t.Errorf("expected exactly one grant, got %d", ledger.grants)
	}
}

func TestSubmitVote_DisputeGrantsNothing(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{inc: incident.Incident{ID: incidentA, Status: incident.StatusActive}}
	ledger := newFakeLedger(userA)
	svc := NewService(pool, repo, ledger, 2)

	out, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: incidentA,
		UserID:     userA,
		Confirmed:  false,
	})
	if err != nil {
		t.Fatalf("submit vote: %v", err)
	}

	if out.VerificationCount != 0 || out.DisputeCount != 1 {
		t.Fatalf("unexpected tally: (%d, %d)", out.VerificationCount, out.DisputeCount)
	}
	if ledger.grants != 0 {
		t.Errorf("expected no grants for a dispute, got %d", ledger.grants)
	}
}

func TestSubmitVote_ThirdConfirmationVerifies(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{inc: incident.Incident{ID: incidentA, Status: incident.StatusActive, VerificationCount: 2}}
	ledger := newFakeLedger(userB)
	svc := NewService(pool, repo, ledger, 2)

	out, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: incidentA,
		UserID:     userB,
		Confirmed:  true,
	})
	if err != nil {
		t.Fatalf("submit vote: %v", err)
	}

	if out.Status != incident.StatusVerified {
		t.Fatalf("expected verified at threshold, got %s", out.Status)
	}
	if repo.tallyStatus != incident.StatusVerified {
		t.Fatalf("expected verified written to store, got %s", repo.tallyStatus)
	}
}

func TestSubmitVote_VerifiedStaysLockedAgainstDisputes(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{inc: incident.Incident{ID: incidentA, Status: incident.StatusVerified, VerificationCount: 3, DisputeCount: 2}}
	ledger := newFakeLedger(userB)
	svc := NewService(pool, repo, ledger, 2)

	out, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: incidentA,
		UserID:     userB,
		Confirmed:  false,
	})
	if err != nil {
		t.Fatalf("submit vote: %v", err)
	}

	if out.DisputeCount != 3 {
		t.Fatalf("expected dispute tally to keep accumulating, got %d", out.DisputeCount)
	}
	if out.Status != incident.StatusVerified {
		t.Fatalf("expected status to stay verified, got %s", out.Status)
	}
}

func TestSubmitVote_ResolvedTalliesWithoutStatusChange(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{inc: incident.Incident{ID: incidentA, Status: incident.StatusResolved, VerificationCount: 2}}
	ledger := newFakeLedger(userB)
	svc := NewService(pool, repo, ledger, 2)

	out, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: incidentA,
		UserID:     userB,
		Confirmed:  true,
	})
	if err != nil {
		t.Fatalf("submit vote: %v", err)
	}

	if out.VerificationCount != 3 {
		t.Fatalf("expected tally to advance, got %d", out.VerificationCount)
	}
	if out.Status != incident.StatusResolved {
		t.Fatalf("resolution must not be overridden, got %s", out.Status)
	}
}

func TestSubmitVote_DuplicateFullyRejected(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{
		inc:       incident.Incident{ID: incidentA, Status: incident.StatusActive},
		insertErr: ErrDuplicateVote,
	}
	ledger := newFakeLedger(userA)
	svc := NewService(pool, repo, ledger, 2)

	_, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: incidentA,
		UserID:     userA,
		Confirmed:  true,
	})
	if !errors.Is(err, ErrDuplicateVote) {
		t.Fatalf("expected ErrDuplicateVote, got %v", err)
	}

	if pool.tx.committed {
		t.Error("expected commit to be skipped on duplicate")
	}
	if !pool.tx.rolled {
		t.Error("expected the transaction to roll back")
	}
	if repo.tallied {
		t.Error("expected no tally update on duplicate")
	}
	if ledger.grants != 0 {
		t.Errorf("expected no reward on duplicate, got %d grants", ledger.grants)
	}
}

func TestSubmitVote_IncidentNotFound(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{lockErr: ErrIncidentNotFound}
	ledger := newFakeLedger(userA)
	svc := NewService(pool, repo, ledger, 2)

	_, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: missingIncident,
		UserID:     userA,
		Confirmed:  true,
	})
	if !errors.Is(err, ErrIncidentNotFound) {
		t.Fatalf("expected ErrIncidentNotFound, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected no commit")
	}
}

func TestSubmitVote_UserNotFound(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{inc: incident.Incident{ID: incidentA, Status: incident.StatusActive}}
	ledger := newFakeLedger() // no users registered
	svc := NewService(pool, repo, ledger, 2)

	_, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: incidentA,
		UserID:     ghostUser,
		Confirmed:  true,
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if pool.tx != nil {
		t.Error("expected no transaction for a failed precondition")
	}
}

func TestSubmitVote_MalformedIDsRejectedUpFront(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{inc: incident.Incident{ID: incidentA, Status: incident.StatusActive}}
	ledger := newFakeLedger(userA)
	svc := NewService(pool, repo, ledger, 2)

	if _, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: "not-a-uuid",
		UserID:     userA,
		Confirmed:  true,
	}); !errors.Is(err, ErrIncidentNotFound) {
		t.Fatalf("expected ErrIncidentNotFound for malformed incident id, got %v", err)
	}

	if _, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: incidentA,
		UserID:     "",
		Confirmed:  true,
	}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for malformed user id, got %v", err)
	}

	if pool.tx != nil {
		t.Error("expected no transaction for malformed identifiers")
	}
}

func TestSubmitVote_RewardFailureKeepsVote(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{inc: incident.Incident{ID: incidentA, Status: incident.StatusActive}}
	ledger := newFakeLedger(userA)
	ledger.grantErr = errors.New("ledger unavailable")
	svc := NewService(pool, repo, ledger, 2)

	out, err := svc.SubmitVote(context.Background(), SubmitVoteRequest{
		IncidentID: incidentA,
		UserID:     userA,
		Confirmed:  true,
	})
	if !errors.Is(err, ErrRewardNotApplied) {
		t.Fatalf("expected ErrRewardNotApplied, got %v", err)
	}

	// The vote transaction committed before the grant was attempted; the
	// outcome describes recorded state and the caller can reconcile later.
	if !pool.tx.committed {
		t.Error("expected the vote transaction to have committed")
	}
	if out.VerificationCount != 1 {
		t.Fatalf("expected committed tally in outcome, got %d", out.VerificationCount)
	}
}

type fakeRepo struct {
	inc       incident.Incident
	lockErr   error
	insertErr error

	tallied     bool
	tallyStatus incident.Status
}

func (f *fakeRepo) GetIncidentForUpdate(_ context.Context, _ pgx.Tx, _ string) (incident.Incident, error) {
	if f.lockErr != nil {
		return incident.Incident{}, f.lockErr
	}
	return f.inc, nil
}

func (f *fakeRepo) InsertVote(_ context.Context, _ pgx.Tx, req SubmitVoteRequest) (Vote, error) {
	if f.insertErr != nil {
		return Vote{}, f.insertErr
	}
	return Vote{ID: "vote-1", IncidentID: req.IncidentID, UserID: req.UserID, Confirmed: req.Confirmed, Comment: req.Comment}, nil
}

func (f *fakeRepo) UpdateTally(_ context.Context, _ pgx.Tx, _ string, _, _ int, status incident.Status) error {
	f.tallied = true
	f.tallyStatus = status
	return nil
}

func (f *fakeRepo) ListByIncident(_ context.Context, _ string) ([]Vote, error) {
	return nil, nil
}

type fakeLedger struct {
	users    map[string]bool
	points   map[string]int
	grants   int
	grantErr error
}

func newFakeLedger(userIDs ...string) *fakeLedger {
	l := &fakeLedger{
		users:  make(map[string]bool),
		points: make(map[string]int),
	}
	for _, id := range userIDs {
		l.users[id] = true
	}
	return l
}

func (l *fakeLedger) Exists(_ context.Context, userID string) (bool, error) {
	return l.users[userID], nil
}

func (l *fakeLedger) GrantPoints(_ context.Context, userID string, amount int) (int, error) {
	if l.grantErr != nil {
		return 0, l.grantErr
	}
	l.grants++
	l.points[userID] += amount
	return l.points[userID], nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
