package escrow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bountyflow/config"
	"bountyflow/token"
)

// TestEngine_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies the full transactional path: custody ledger, escrow store, timeline
// and outbox writes all committing together.
func TestEngine_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"users", "escrow_config", "token_balances", "escrow_tasks", "disputes", "timeline_events", "outbox"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("table %s missing; apply migrations/ against $DATABASE_URL first", table)
		}
	}

	seedUser := func(name string, role string) string {
		var id string
		email := fmt.Sprintf("%s+%d@example.com", name, time.Now().UnixNano())
		if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, role) VALUES ($1, $2, $3) RETURNING id`, email, name, role).Scan(&id); err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
		return id
	}

	creator := seedUser("Alice Sponsor", "sponsor")
	contributor := seedUser("Bob Contributor", "contributor")
	adminID := seedUser("Ada Admin", "admin")

	// Initialize once; tolerate a prior run having claimed the singleton.
	cfgSvc := config.NewService(pool, nil)
	var admin string
	if rec, err := cfgSvc.Initialize(ctx, adminID, "USDC"); err == nil {
		admin = rec.AdminID
	} else if errors.Is(err, config.ErrAlreadyInitialized) {
		rec, err := cfgSvc.Get(ctx)
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		admin = rec.AdminID
	} else {
		t.Fatalf("initialize: %v", err)
	}

	ledger := token.NewLedger()
	if err := ledger.Mint(ctx, pool, creator, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	engine := NewEngine(pool, nil, nil, nil, nil)

	taskID := fmt.Sprintf("itest-%d", time.Now().UnixNano())
	task, err := engine.CreateEscrow(ctx, creator, CreateParams{
		TaskID:   taskID,
		IssueURL: "https://github.com/acme/widgets/issues/42",
		Amount:   100,
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if task.Status != StatusCreated || task.Amount != 100 {
		t.Fatalf("unexpected created task: %+v", task)
	}

	creatorBalance, err := ledger.Balance(ctx, pool, creator)
	if err != nil {
		t.Fatalf("creator balance: %v", err)
	}
	if creatorBalance != 900 {
		t.Fatalf("expected creator balance 900 after lock, got %d", creatorBalance)
	}

	if err := engine.AssignContributor(ctx, creator, taskID, contributor); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := engine.MarkCompleted(ctx, contributor, taskID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := engine.ApproveAndPay(ctx, creator, taskID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	contributorBalance, err := ledger.Balance(ctx, pool, contributor)
	if err != nil {
		t.Fatalf("contributor balance: %v", err)
	}
	if contributorBalance != 100 {
		t.Fatalf("expected contributor balance 100 after release, got %d", contributorBalance)
	}

	// Stale retry must reject without moving funds again.
	if err := engine.ApproveAndPay(ctx, creator, taskID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("second approve: expected ErrInvalidStateTransition, got %v", err)
	}
	if b, _ := ledger.Balance(ctx, pool, contributor); b != 100 {
		t.Fatalf("expected contributor balance to stay 100, got %d", b)
	}

	// Timeline carries one event per transition, in order, with monotonic seq.
	rows, err := pool.Query(ctx, `SELECT type FROM timeline_events WHERE task_id = $1 ORDER BY seq`, taskID)
	if err != nil {
		t.Fatalf("timeline query: %v", err)
	}
	defer rows.Close()
	var types []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatalf("scan type: %v", err)
		}
		types = append(types, typ)
	}
	want := []string{EventEscrowCreated, EventContributorAssigned, EventTaskCompleted, EventFundsReleased}
	if len(types) != len(want) {
		t.Fatalf("expected timeline %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected timeline %v, got %v", want, types)
		}
	}

	var outboxCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE payload->>'task_id' = $1`, taskID).Scan(&outboxCount); err != nil {
		t.Fatalf("outbox count: %v", err)
	}
	if outboxCount != 4 {
		t.Fatalf("expected 4 outbox messages, got %d", outboxCount)
	}

	// Dispute path on a second task resolved by the configured admin.
	disputedID := fmt.Sprintf("itest-d-%d", time.Now().UnixNano())
	if _, err := engine.CreateEscrow(ctx, creator, CreateParams{TaskID: disputedID, IssueURL: "https://github.com/acme/widgets/issues/43", Amount: 100}); err != nil {
		t.Fatalf("create disputed: %v", err)
	}
	if err := engine.AssignContributor(ctx, creator, disputedID, contributor); err != nil {
		t.Fatalf("assign disputed: %v", err)
	}
	if err := engine.InitiateDispute(ctx, contributor, disputedID, "creator is not responding to review requests"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := engine.ResolveDispute(ctx, admin, disputedID, Outcome{Kind: OutcomeSplit, ToContributor: 60, ToCreator: 40}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if b, _ := ledger.Balance(ctx, pool, contributor); b != 160 {
		t.Fatalf("expected contributor balance 160 after split, got %d", b)
	}

	d, err := engine.GetDispute(ctx, disputedID)
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if d.Outcome == nil || d.Outcome.Kind != OutcomeSplit || d.Outcome.ToContributor != 60 {
		t.Fatalf("unexpected dispute outcome: %+v", d.Outcome)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
