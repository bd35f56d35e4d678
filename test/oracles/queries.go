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

// All returns queries that must yield no rows while the system is healthy.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_quote",
			SQL: `SELECT request_id, COUNT(*) FROM quotes
                  WHERE status = 'accepted'
                  GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_single_pending_per_agent",
			SQL: `SELECT request_id, agent_id, COUNT(*) FROM quotes
                  WHERE status = 'pending'
                  GROUP BY request_id, agent_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_no_pending_on_closed_request",
			SQL: `SELECT q.id, q.request_id, r.status FROM quotes q
                  JOIN freight_requests r ON r.id = q.request_id
                  WHERE q.status = 'pending' AND r.status NOT IN ('draft', 'active')`,
		},
		{
			Name: "O4_accepted_quote_request_moved_on",
			SQL: `SELECT q.id, r.id, r.status FROM quotes q
                  JOIN freight_requests r ON r.id = q.request_id
                  WHERE q.status = 'accepted' AND r.status IN ('draft', 'active')`,
		},
		{
			Name: "O5_assignment_matches_accepted_quote",
			SQL: `SELECT r.id, r.status, r.assigned_quote_id FROM freight_requests r
                  LEFT JOIN quotes q ON q.id = r.assigned_quote_id
                  WHERE r.status IN ('assigned', 'in_transit', 'delivered')
                    AND (q.id IS NULL OR q.status <> 'accepted' OR q.agent_id <> r.assigned_agent_id)`,
		},
		{
			Name: "O6_completed_jobs_match_deliveries",
			SQL: `SELECT p.user_id, p.completed_jobs, COUNT(r.id) FROM agent_profiles p
                  LEFT JOIN freight_requests r ON r.assigned_agent_id = p.user_id AND r.status = 'delivered'
                  GROUP BY p.user_id, p.completed_jobs
                  HAVING p.completed_jobs <> COUNT(r.id)`,
		},
		{
			Name: "O7_created_event_per_request",
			SQL: `SELECT r.id FROM freight_requests r
                  WHERE NOT EXISTS (
                      SELECT 1 FROM outbox_events e
                      WHERE e.aggregate_id = r.id AND e.topic = 'freight.created')`,
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
