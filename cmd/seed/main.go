// Command seed populates a development database with a small demo network:
// a handful of routes and stops, a few commuters, and some incidents with
// votes already cast so every consensus status is represented.
package main

import (
	"context"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"transitwatch/db"
	"transitwatch/incident"
	"transitwatch/user"
	"transitwatch/verification"
)

type routeSeed struct {
	number, name, transport string
}

type stopSeed struct {
	name     string
	lat, lon float64
}

type incidentSeed struct {
	title, description string
	typ                incident.Type
	severity           incident.Severity
	routeNumber        string
	stopName           string
	reporter           string
	delayMinutes       *int
	confirms           []string
	disputes           []string
}

func main() {
	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	routes := []routeSeed{
		{"14", "Central Loop", "tram"},
		{"72", "Harbor Express", "bus"},
		{"S3", "Airport Line", "train"},
		{"8", "University Corridor", "bus"},
	}
	stops := []stopSeed{
		{"Central Station", 52.3791, 4.9003},
		{"Harbor Terminal", 52.3930, 4.9120},
		{"University Plaza", 52.3556, 4.9554},
		{"Airport South", 52.3086, 4.7639},
	}
	usernames := []string{"alice", "bob", "carol", "dave", "erin", "frank"}

	routeIDs := make(map[string]string, len(routes))
	for _, r := range routes {
		var id string
		err := pool.QueryRow(ctx, `
			INSERT INTO routes (route_number, route_name, transport_type)
			VALUES ($1, $2, $3)
			ON CONFLICT (route_number) DO UPDATE SET route_name = EXCLUDED.route_name
			RETURNING id
		`, r.number, r.name, r.transport).Scan(&id)
		if err != nil {
			log.Fatalf("seed route %s: %v", r.number, err)
		}
		routeIDs[r.number] = id
	}

	stopIDs := make(map[string]string, len(stops))
	for _, s := range stops {
		id, err := upsertStop(ctx, pool, s)
		if err != nil {
			log.Fatalf("seed stop %s: %v", s.name, err)
		}
		stopIDs[s.name] = id
	}

	userIDs := make(map[string]string, len(usernames))
	for _, name := range usernames {
		var id string
		err := pool.QueryRow(ctx, `
			INSERT INTO users (username)
			VALUES ($1)
			ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
			RETURNING id
		`, name).Scan(&id)
		if err != nil {
			log.Fatalf("seed user %s: %v", name, err)
		}
		userIDs[name] = id
	}

	twenty := 20
	incidents := []incidentSeed{
		{
			title:        "Tram 14 stuck at Central",
			description:  "Signal failure has the tram standing outside Central Station",
			typ:          incident.TypeDelay,
			severity:     incident.SeverityMedium,
			routeNumber:  "14",
			stopName:     "Central Station",
			reporter:     "alice",
			delayMinutes: &twenty,
			confirms:     []string{"bob", "carol", "dave"},
		},
		{
			title:       "Harbor Express breakdown",
			description: "Bus 72 broke down at the terminal, passengers waiting for a replacement",
			typ:         incident.TypeBreakdown,
			severity:    incident.SeverityHigh,
			routeNumber: "72",
			stopName:    "Harbor Terminal",
			reporter:    "bob",
			confirms:    []string{"erin"},
		},
		{
			title:       "Ghost cancellation on S3",
			description: "App shows the 10:15 airport train cancelled but it ran on time",
			typ:         incident.TypeCancellation,
			severity:    incident.SeverityLow,
			routeNumber: "S3",
			reporter:    "frank",
			disputes:    []string{"alice", "carol", "erin"},
		},
		{
			title:       "Severe crowding on line 8",
			description: "University Corridor buses skipping stops because they are full",
			typ:         incident.TypeCrowding,
			severity:    incident.SeverityMedium,
			routeNumber: "8",
			stopName:    "University Plaza",
			reporter:    "carol",
		},
	}

	userSvc := user.NewService(user.NewRepository(pool), "seed-only")
	incidentSvc := incident.NewService(pool, incident.NewRepository(pool), seedNetwork{}, userSvc, user.ReportReward)
	voteSvc := verification.NewService(pool, verification.NewRepository(pool), userSvc, user.ConfirmReward)

	for _, seed := range incidents {
		params := incident.CreateParams{
			Title:        seed.title,
			Description:  seed.description,
			Type:         seed.typ,
			Severity:     seed.severity,
			RouteID:      routeIDs[seed.routeNumber],
			ReporterID:   userIDs[seed.reporter],
			DelayMinutes: seed.delayMinutes,
		}
		if seed.stopName != "" {
			stopID := stopIDs[seed.stopName]
			params.StopID = &stopID
		}

		inc, err := incidentSvc.Create(ctx, params)
		if err != nil {
			log.Fatalf("seed incident %q: %v", seed.title, err)
		}

		for _, voter := range seed.confirms {
			if _, err := voteSvc.SubmitVote(ctx, verification.SubmitVoteRequest{
				IncidentID: inc.ID,
				UserID:     userIDs[voter],
				Confirmed:  true,
			}); err != nil {
				log.Fatalf("seed confirm on %q by %s: %v", seed.title, voter, err)
			}
		}
		for _, voter := range seed.disputes {
			if _, err := voteSvc.SubmitVote(ctx, verification.SubmitVoteRequest{
				IncidentID: inc.ID,
				UserID:     userIDs[voter],
				Confirmed:  false,
			}); err != nil {
				log.Fatalf("seed dispute on %q by %s: %v", seed.title, voter, err)
			}
		}

		log.Printf("seeded incident %q (%s)", seed.title, inc.ID)
	}

	log.Printf("seeded %d routes, %d stops, %d users, %d incidents",
		len(routes), len(stops), len(usernames), len(incidents))
}

func upsertStop(ctx context.Context, pool *pgxpool.Pool, s stopSeed) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `SELECT id FROM stops WHERE stop_name = $1`, s.name).Scan(&id)
	if err == nil {
		return id, nil
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO stops (stop_name, latitude, longitude)
		VALUES ($1, $2, $3)
		RETURNING id
	`, s.name, s.lat, s.lon).Scan(&id)
	return id, err
}

// seedNetwork skips existence checks: the seeder only references routes and
// stops it just inserted.
type seedNetwork struct{}

func (seedNetwork) RouteExists(context.Context, string) (bool, error) { return true, nil }
func (seedNetwork) StopExists(context.Context, string) (bool, error)  { return true, nil }
