package escrow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Timeline event types, one per committed transition. Off-chain indexers key
// on these names.
const (
	EventEscrowCreated       = "ESCROW_CREATED"
	EventContributorAssigned = "CONTRIBUTOR_ASSIGNED"
	EventTaskCompleted       = "TASK_COMPLETED"
	EventFundsReleased       = "FUNDS_RELEASED"
	EventDisputeInitiated    = "DISPUTE_INITIATED"
	EventDisputeResolved     = "DISPUTE_RESOLVED"
	EventRefundProcessed     = "REFUND_PROCESSED"
)

// outboxTopics maps each timeline event to the topic published for indexers.
var outboxTopics = map[string]string{
	EventEscrowCreated:       "escrow.created",
	EventContributorAssigned: "escrow.contributor_assigned",
	EventTaskCompleted:       "escrow.task_completed",
	EventFundsReleased:       "escrow.funds_released",
	EventDisputeInitiated:    "escrow.dispute_initiated",
	EventDisputeResolved:     "escrow.dispute_resolved",
	EventRefundProcessed:     "escrow.refund_processed",
}

// Emitter appends one audit event per committed transition. Implementations
// write inside the engine's transaction so events exist exactly when the
// transition they describe committed, never speculatively.
type Emitter interface {
	Emit(ctx context.Context, tx pgx.Tx, taskID, eventType, actorID string, payload map[string]any) error
}

// TimelineEmitter writes a per-task monotonically sequenced timeline row and
// enqueues the matching outbox message. Message ids are generated client-side
// so consumers can deduplicate across redeliveries.
type TimelineEmitter struct {
	idGen func() string
}

func NewTimelineEmitter() *TimelineEmitter {
	return &TimelineEmitter{idGen: uuid.NewString}
}

func (e *TimelineEmitter) Emit(ctx context.Context, tx pgx.Tx, taskID, eventType, actorID string, payload map[string]any) error {
	topic, ok := outboxTopics[eventType]
	if !ok {
		return fmt.Errorf("escrow: unknown event type %q", eventType)
	}

	messageID := e.idGen()

	if payload == nil {
		payload = make(map[string]any, 3)
	}
	payload["task_id"] = taskID
	payload["message_id"] = messageID

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal event payload: %w", err)
	}

	// The task row is locked FOR UPDATE by the enclosing transaction, so the
	// MAX(seq)+1 read cannot race another writer for the same task.
	var seq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM timeline_events WHERE task_id = $1`, taskID).Scan(&seq); err != nil {
		return fmt.Errorf("escrow: next event seq: %w", err)
	}

	var actor any
	if actorID != "" {
		actor = actorID
	}
	const insertEventSQL = `
		INSERT INTO timeline_events (task_id, seq, type, payload, actor_id)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, insertEventSQL, taskID, seq, eventType, payloadBytes, actor); err != nil {
		return fmt.Errorf("escrow: insert timeline event: %w", err)
	}

	const insertOutboxSQL = `
		INSERT INTO outbox (id, topic, payload)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.Exec(ctx, insertOutboxSQL, messageID, topic, payloadBytes); err != nil {
		return fmt.Errorf("escrow: enqueue outbox: %w", err)
	}

	return nil
}
