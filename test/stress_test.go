package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"transitwatch/incident"
	"transitwatch/test/actors"
	"transitwatch/test/chaos"
	"transitwatch/test/infra"
	"transitwatch/test/oracles"
	"transitwatch/transit"
	"transitwatch/user"
	"transitwatch/verification"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent voter actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

// setupPool provisions a migrated database for one test: an explicit DSN, a
// throwaway container, or a local Postgres, in that order of preference.
func setupPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		dsn, err = infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no -dsn, no Docker, no local Postgres: %v", err)
		}
		pgC = &infra.PGContainer{}
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})

	return pool
}

type services struct {
	users         *user.Service
	incidents     *incident.Service
	verifications *verification.Service
}

func buildServices(pool *pgxpool.Pool) services {
	userSvc := user.NewService(user.NewRepository(pool), "stress-secret")
	transitSvc := transit.NewService(transit.NewRepository(pool))
	return services{
		users:         userSvc,
		incidents:     incident.NewService(pool, incident.NewRepository(pool), transitSvc, userSvc, user.ReportReward),
		verifications: verification.NewService(pool, verification.NewRepository(pool), userSvc, user.ConfirmReward),
	}
}

func seedRoute(t *testing.T, ctx context.Context, pool *pgxpool.Pool, number string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `INSERT INTO routes (route_number, route_name, transport_type)
                               VALUES ($1, $2, 'bus') RETURNING id`,
		number, "Stress route "+number).Scan(&id)
	if err != nil {
		t.Fatalf("seed route %s: %v", number, err)
	}
	return id
}

func seedUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string) string {
	t.Helper()
	var id string
	if err := pool.QueryRow(ctx, `INSERT INTO users (username) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return id
}

// TestConsensusStress runs reporter, voter and resolver actors against shared
// incidents under connection chaos, while the oracles continuously probe for
// duplicate votes, drifted tallies, unbacked statuses and over-rewards.
func TestConsensusStress(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	pool := setupPool(t, ctx)
	svcs := buildServices(pool)

	world := &actors.World{
		Incidents:     svcs.incidents,
		Verifications: svcs.verifications,
	}
	for i := 0; i < 4; i++ {
		world.RouteIDs = append(world.RouteIDs, seedRoute(t, ctx, pool, fmt.Sprintf("R%d-%d", i, rand.Int63())))
	}
	for i := 0; i < 40; i++ {
		world.UserIDs = append(world.UserIDs, seedUser(t, ctx, pool, fmt.Sprintf("stress_user_%d_%d", i, rand.Int63())))
	}
	for i := 0; i < 6; i++ {
		inc, err := svcs.incidents.Create(ctx, incident.CreateParams{
			Title:       fmt.Sprintf("Shared stress incident %d", i),
			Description: "Contended incident every voter actor targets",
			Type:        incident.TypeDelay,
			Severity:    incident.SeverityMedium,
			RouteID:     world.RouteIDs[i%len(world.RouteIDs)],
			ReporterID:  world.UserIDs[i%len(world.UserIDs)],
		})
		if err != nil {
			t.Fatalf("seed incident %d: %v", i, err)
		}
		world.IncidentIDs = append(world.IncidentIDs, inc.ID)
	}

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Voter(ctx2, world, stop) })
	}
	g.Go(func() error { return actors.Reporter(ctx2, world, stop) })
	g.Go(func() error { return actors.Resolver(ctx2, world, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// quiesced: every oracle must still hold
	if name, row, err := oracles.Run(context.Background(), pool); err != nil {
		t.Fatalf("final oracle error: %v", err)
	} else if name != "" {
		dumpRecent(t, context.Background(), pool)
		t.Fatalf("final oracle %s failed. First row: %s (seed=%d)", name, row, seed)
	}
}

// TestVoteStorm replays the canonical contention scenario: 100 goroutines,
// one per distinct user, fire 60 confirms and 40 disputes at one incident in
// arbitrary interleaving. The final tally must be exactly (60, 40), the
// status verified, and every confirmer credited exactly once.
func TestVoteStorm(t *testing.T) {
	flag.Parse()
	rand.Seed(*flSeed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool := setupPool(t, ctx)
	svcs := buildServices(pool)

	routeID := seedRoute(t, ctx, pool, fmt.Sprintf("VS-%d", rand.Int63()))
	reporterID := seedUser(t, ctx, pool, fmt.Sprintf("storm_reporter_%d", rand.Int63()))

	inc, err := svcs.incidents.Create(ctx, incident.CreateParams{
		Title:       "Vote storm target",
		Description: "Single incident receiving one hundred concurrent votes",
		Type:        incident.TypeBreakdown,
		Severity:    incident.SeverityHigh,
		RouteID:     routeID,
		ReporterID:  reporterID,
	})
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}

	const confirms, disputes = 60, 40

	type ballot struct {
		userID    string
		confirmed bool
	}
	ballots := make([]ballot, 0, confirms+disputes)
	for i := 0; i < confirms+disputes; i++ {
		ballots = append(ballots, ballot{
			userID:    seedUser(t, ctx, pool, fmt.Sprintf("storm_voter_%d_%d", i, rand.Int63())),
			confirmed: i < confirms,
		})
	}
	rand.Shuffle(len(ballots), func(i, j int) { ballots[i], ballots[j] = ballots[j], ballots[i] })

	g, ctx2 := errgroup.WithContext(ctx)
	for _, b := range ballots {
		b := b
		g.Go(func() error {
			_, err := svcs.verifications.SubmitVote(ctx2, verification.SubmitVoteRequest{
				IncidentID: inc.ID,
				UserID:     b.userID,
				Confirmed:  b.confirmed,
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("vote storm: %v", err)
	}

	final, err := svcs.incidents.Get(ctx, inc.ID)
	if err != nil {
		t.Fatalf("reload incident: %v", err)
	}
	if final.VerificationCount != confirms || final.DisputeCount != disputes {
		t.Fatalf("final tally (%d, %d), want (%d, %d)",
			final.VerificationCount, final.DisputeCount, confirms, disputes)
	}
	if final.Status != incident.StatusVerified {
		t.Fatalf("final status %s, want %s", final.Status, incident.StatusVerified)
	}

	var voteRows int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM verifications WHERE incident_id = $1`, inc.ID).Scan(&voteRows); err != nil {
		t.Fatalf("count votes: %v", err)
	}
	if voteRows != confirms+disputes {
		t.Fatalf("vote rows %d, want %d", voteRows, confirms+disputes)
	}

	// exactly-once rewards: each confirmer earned the confirm reward once,
	// each disputer nothing, the reporter the report reward once
	var miscredited int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM users u
		JOIN verifications v ON v.user_id = u.id
		WHERE v.incident_id = $1
		  AND u.points <> CASE WHEN v.is_verified THEN $2 ELSE 0 END
	`, inc.ID, user.ConfirmReward).Scan(&miscredited)
	if err != nil {
		t.Fatalf("check voter points: %v", err)
	}
	if miscredited != 0 {
		t.Fatalf("%d voters hold a wrong point balance", miscredited)
	}

	reporter, err := svcs.users.GetByID(ctx, reporterID)
	if err != nil {
		t.Fatalf("reload reporter: %v", err)
	}
	if reporter.Points != user.ReportReward {
		t.Fatalf("reporter points %d, want %d", reporter.Points, user.ReportReward)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"incidents", `SELECT id, status, verification_count, dispute_count, resolved_at FROM incidents ORDER BY reported_at DESC LIMIT 50`},
		{"verifications", `SELECT id, incident_id, user_id, is_verified, verified_at FROM verifications ORDER BY verified_at DESC LIMIT 50`},
		{"users", `SELECT id, username, points FROM users ORDER BY points DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
