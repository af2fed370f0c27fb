package user

import "time"

// User is the domain representation of a community member.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Points       int
	CreatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest contains account login credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Reward amounts granted through the points ledger.
const (
	// ReportReward is credited to the reporter when an incident is created.
	ReportReward = 10
	// ConfirmReward is credited for a confirming vote on an incident.
	ConfirmReward = 2
)
