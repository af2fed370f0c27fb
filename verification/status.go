package verification

import "transitwatch/incident"

// Consensus thresholds. Three independent confirmations verify an incident;
// three independent disputes discredit it.
const (
	VerifyThreshold  = 3
	DisputeThreshold = 3
)

// DeriveStatus computes the incident status implied by its tally. It is a
// pure function of (counts, externally resolved):
//
//   - resolved is terminal: votes keep tallying but never change the status;
//   - confirmations outrank disputes: once verification_count reaches its
//     threshold the status is verified, and growing dispute counts cannot
//     flip it back (counts only ever increase);
//   - below the confirm threshold, dispute_count at its threshold yields
//     disputed;
//   - below both thresholds the prior status is kept.
//
// Because the result depends only on the counts, the final status of any
// vote sequence is independent of interleaving. Callers still serialize
// invocations per incident so no increment is lost.
func DeriveStatus(prior incident.Status, verificationCount, disputeCount int) incident.Status {
	if prior == incident.StatusResolved {
		return prior
	}
	if verificationCount >= VerifyThreshold {
		return incident.StatusVerified
	}
	if disputeCount >= DisputeThreshold {
		return incident.StatusDisputed
	}
	return prior
}
