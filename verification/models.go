package verification

import (
	"time"

	"transitwatch/incident"
)

// Vote is one user's immutable judgement on an incident: a confirmation or a
// dispute. At most one vote exists per (incident, user) pair, ever; the
// verifications table enforces this with a unique index.
type Vote struct {
	ID         string
	IncidentID string
	UserID     string
	Confirmed  bool
	Comment    *string
	VerifiedAt time.Time
}

// Outcome bundles the created vote with the incident's post-update tally and
// derived status.
type Outcome struct {
	Vote              Vote
	VerificationCount int
	DisputeCount      int
	Status            incident.Status
}

// SubmitVoteRequest captures a vote submission normalized for the service.
type SubmitVoteRequest struct {
	IncidentID string
	UserID     string
	Confirmed  bool
	Comment    *string
}
