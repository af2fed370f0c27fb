package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant probes. Each query selects VIOLATIONS: a healthy
// database returns zero rows from every one of them, at any point during the
// stress run, not only at quiesce.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_vote_per_user_per_incident",
			SQL: `SELECT incident_id, user_id, COUNT(*) FROM verifications
                  GROUP BY incident_id, user_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_tally_matches_vote_rows",
			SQL: `SELECT i.id, i.verification_count, i.dispute_count FROM incidents i
                  WHERE i.verification_count <> (SELECT COUNT(*) FROM verifications v
                                                 WHERE v.incident_id = i.id AND v.is_verified)
                     OR i.dispute_count <> (SELECT COUNT(*) FROM verifications v
                                            WHERE v.incident_id = i.id AND NOT v.is_verified)`,
		},
		{
			Name: "O3_status_backed_by_counts",
			SQL: `SELECT id, status, verification_count, dispute_count FROM incidents
                  WHERE (status = 'verified' AND verification_count < 3)
                     OR (status = 'disputed' AND dispute_count < 3)
                     OR (status = 'disputed' AND verification_count >= 3)
                     OR (status = 'active' AND (verification_count >= 3 OR dispute_count >= 3))`,
		},
		{
			Name: "O4_counts_nonnegative",
			SQL: `SELECT id FROM incidents
                  WHERE verification_count < 0 OR dispute_count < 0`,
		},
		{
			Name: "O5_no_over_reward",
			SQL: `SELECT u.id, u.points FROM users u
                  WHERE u.points > 10 * (SELECT COUNT(*) FROM incidents i WHERE i.reporter_id = u.id)
                                 +  2 * (SELECT COUNT(*) FROM verifications v
                                         WHERE v.user_id = u.id AND v.is_verified)`,
		},
		{
			Name: "O6_resolved_is_stamped",
			SQL:  `SELECT id FROM incidents WHERE status = 'resolved' AND resolved_at IS NULL`,
		},
		{
			Name: "O7_vote_references_hold",
			SQL: `SELECT v.id FROM verifications v
                  LEFT JOIN incidents i ON i.id = v.incident_id
                  LEFT JOIN users u ON u.id = v.user_id
                  WHERE i.id IS NULL OR u.id IS NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
