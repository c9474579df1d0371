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

// All returns the invariant checks run against a live database. Each query
// returns zero rows when the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			// Vault holds exactly the sum of funds still in custody.
			Name: "O1_fund_conservation",
			SQL: `SELECT v.balance AS vault, h.held
                  FROM (SELECT COALESCE((SELECT balance FROM token_balances WHERE account_id='escrow_vault'), 0) AS balance) v,
                       (SELECT COALESCE(SUM(amount), 0) AS held FROM escrow_tasks
                        WHERE status IN ('created','assigned','completed','disputed')) h
                  WHERE v.balance <> h.held`,
		},
		{
			Name: "O2_no_negative_balance",
			SQL:  `SELECT account_id, balance FROM token_balances WHERE balance < 0`,
		},
		{
			Name: "O3_contributor_matches_status",
			SQL: `SELECT task_id, status FROM escrow_tasks
                  WHERE (contributor_id IS NULL AND status NOT IN ('created','refunded'))
                     OR (contributor_id IS NOT NULL AND status IN ('created','refunded'))`,
		},
		{
			Name: "O4_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT task_id, seq,
                             LAG(seq) OVER (PARTITION BY task_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			// Disbursement happens exactly once per task.
			Name: "O5_single_disbursement",
			SQL: `SELECT task_id, type, COUNT(*) FROM timeline_events
                  WHERE type IN ('FUNDS_RELEASED','REFUND_PROCESSED','DISPUTE_RESOLVED')
                  GROUP BY task_id, type HAVING COUNT(*) > 1`,
		},
		{
			// Disputed or resolved tasks carry a dispute record; resolved
			// disputes carry an outcome and a resolver.
			Name: "O6_dispute_linkage",
			SQL: `SELECT t.task_id FROM escrow_tasks t
                  LEFT JOIN disputes d ON d.task_id = t.task_id
                  WHERE t.status IN ('disputed','resolved')
                    AND (d.task_id IS NULL
                         OR (t.status = 'resolved' AND (d.outcome IS NULL OR d.resolved_at IS NULL OR d.resolved_by IS NULL)))`,
		},
		{
			// Split outcomes disburse the full escrowed amount, both parts positive.
			Name: "O7_split_sums_exactly",
			SQL: `SELECT d.task_id, d.to_contributor, d.to_creator, t.amount
                  FROM disputes d JOIN escrow_tasks t ON t.task_id = d.task_id
                  WHERE d.outcome = 'split'
                    AND (d.to_contributor <= 0 OR d.to_creator <= 0
                         OR d.to_contributor + d.to_creator <> t.amount)`,
		},
		{
			Name: "O8_outbox_not_stuck",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O9_task_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='no_delete_escrow_tasks')`,
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
