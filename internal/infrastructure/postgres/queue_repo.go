package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AshinZhou/zero2prod-my/internal/domain/delivery"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEmptyQueue signals that no delivery task is currently due.
var ErrEmptyQueue = errors.New("no due delivery tasks")

type DeliveryQueueRepository struct {
	pool *pgxpool.Pool
}

func NewDeliveryQueueRepository(pool *pgxpool.Pool) *DeliveryQueueRepository {
	return &DeliveryQueueRepository{pool: pool}
}

// Enqueue inserts one task per subscriber email for the given issue. Must run
// inside the publish transaction so the fan-out commits atomically with the
// issue and the idempotency record.
func (r *DeliveryQueueRepository) Enqueue(ctx context.Context, issueID uuid.UUID, emails []string) (int, error) {
	tx := GetTx(ctx)
	if tx == nil {
		return 0, fmt.Errorf("delivery enqueue requires a transaction")
	}

	rows := make([][]any, 0, len(emails))
	for _, email := range emails {
		rows = append(rows, []any{issueID, email})
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"issue_delivery_queue"},
		[]string{"issue_id", "subscriber_email"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue delivery tasks: %w", err)
	}

	return int(n), nil
}

// DequeueDue claims one due task with FOR UPDATE SKIP LOCKED. The row stays
// locked until the caller's transaction ends, so concurrent workers skip it
// instead of blocking. Returns ErrEmptyQueue when nothing is due.
func (r *DeliveryQueueRepository) DequeueDue(ctx context.Context) (*delivery.Task, error) {
	tx := GetTx(ctx)
	if tx == nil {
		return nil, fmt.Errorf("delivery dequeue requires a transaction")
	}

	const sql = `
		SELECT issue_id, subscriber_email, retry_count, execute_after
		FROM issue_delivery_queue
		WHERE execute_after <= now()
		ORDER BY execute_after
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var t delivery.Task
	err := tx.QueryRow(ctx, sql).Scan(&t.IssueID, &t.SubscriberEmail, &t.RetryCount, &t.ExecuteAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmptyQueue
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue delivery task: %w", err)
	}

	return &t, nil
}

// Complete removes a delivered task. Must run in the claiming transaction.
func (r *DeliveryQueueRepository) Complete(ctx context.Context, t *delivery.Task) error {
	return r.remove(ctx, t, "complete")
}

// Abandon removes a task without delivery. Must run in the claiming transaction.
func (r *DeliveryQueueRepository) Abandon(ctx context.Context, t *delivery.Task) error {
	return r.remove(ctx, t, "abandon")
}

func (r *DeliveryQueueRepository) remove(ctx context.Context, t *delivery.Task, op string) error {
	tx := GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("delivery %s requires a transaction", op)
	}

	const sql = `
		DELETE FROM issue_delivery_queue
		WHERE issue_id = $1 AND subscriber_email = $2
	`

	if _, err := tx.Exec(ctx, sql, t.IssueID, t.SubscriberEmail); err != nil {
		return fmt.Errorf("%s delivery task: %w", op, err)
	}

	return nil
}

// Reschedule pushes a failed task out by the given delay and bumps its retry
// count. Must run in the claiming transaction.
func (r *DeliveryQueueRepository) Reschedule(ctx context.Context, t *delivery.Task, delay time.Duration) error {
	tx := GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("delivery reschedule requires a transaction")
	}

	const sql = `
		UPDATE issue_delivery_queue
		SET retry_count = retry_count + 1,
			execute_after = now() + make_interval(secs => $3)
		WHERE issue_id = $1 AND subscriber_email = $2
	`

	if _, err := tx.Exec(ctx, sql, t.IssueID, t.SubscriberEmail, delay.Seconds()); err != nil {
		return fmt.Errorf("reschedule delivery task: %w", err)
	}

	return nil
}
