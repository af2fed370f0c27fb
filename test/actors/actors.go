package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"transitwatch/incident"
	"transitwatch/verification"
)

// World carries the seeded fixtures and the real service layer the actors
// drive. The actors go through the services, not raw SQL, so the stress run
// exercises the same locking and idempotency paths production traffic does.
type World struct {
	Incidents     *incident.Service
	Verifications *verification.Service

	RouteIDs    []string
	UserIDs     []string
	IncidentIDs []string
}

func (w *World) randomRoute() string    { return w.RouteIDs[rand.Intn(len(w.RouteIDs))] }
func (w *World) randomUser() string     { return w.UserIDs[rand.Intn(len(w.UserIDs))] }
func (w *World) randomIncident() string { return w.IncidentIDs[rand.Intn(len(w.IncidentIDs))] }

// Reporter files fresh incidents on random routes.
func Reporter(ctx context.Context, w *World, stop <-chan struct{}) error {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		n++
		_, err := w.Incidents.Create(ctx, incident.CreateParams{
			Title:       fmt.Sprintf("Stress incident %d on route", n),
			Description: "Synthetic incident generated by the stress reporter actor",
			Type:        incident.TypeDelay,
			Severity:    incident.SeverityLow,
			RouteID:     w.randomRoute(),
			ReporterID:  w.randomUser(),
		})
		switch {
		case err == nil:
		case errors.Is(err, incident.ErrRewardNotApplied):
			// incident stands; the over-reward oracle still holds
		case retryable(err):
		default:
			return fmt.Errorf("reporter create: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Voter hammers the shared incidents with votes from random users. Duplicate
// submissions are the point of the exercise: every replay must come back as
// ErrDuplicateVote with no state change.
func Voter(ctx context.Context, w *World, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := w.Verifications.SubmitVote(ctx, verification.SubmitVoteRequest{
			IncidentID: w.randomIncident(),
			UserID:     w.randomUser(),
			Confirmed:  rand.Intn(3) > 0,
		})
		switch {
		case err == nil:
		case errors.Is(err, verification.ErrDuplicateVote):
			// expected under contention
		case errors.Is(err, verification.ErrRewardNotApplied):
			// vote stands; the over-reward oracle still holds
		case retryable(err):
		default:
			return fmt.Errorf("voter submit: %w", err)
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// Resolver closes random incidents, racing the voters. Votes that land after
// the resolution must tally without reopening the status.
func Resolver(ctx context.Context, w *World, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(4) == 0 {
			_, err := w.Incidents.UpdateStatus(ctx, w.randomIncident(), incident.StatusResolved)
			if err != nil && !errors.Is(err, incident.ErrNotFound) && !retryable(err) {
				return fmt.Errorf("resolver update: %w", err)
			}
		}
		time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
	}
}

// retryable reports whether the error is transient connection fallout from
// the chaos actor terminating backends.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"terminating connection",
		"connection reset",
		"unexpected EOF",
		"conn closed",
		"broken pipe",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
