package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema statements are applied in order at process start. They are written
// to be re-runnable so every instance can apply them unconditionally.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id uuid PRIMARY KEY,
		email text NOT NULL UNIQUE,
		name text NOT NULL,
		status text NOT NULL,
		subscribed_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS newsletter_issue (
		issue_id uuid PRIMARY KEY,
		title text NOT NULL,
		html_body text NOT NULL,
		text_body text NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency (
		operator_id uuid NOT NULL,
		idempotency_key text NOT NULL,
		response_status_code smallint,
		response_headers jsonb,
		response_body bytea,
		created_at timestamptz NOT NULL,
		PRIMARY KEY (operator_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS issue_delivery_queue (
		issue_id uuid NOT NULL REFERENCES newsletter_issue (issue_id),
		subscriber_email text NOT NULL,
		retry_count int NOT NULL DEFAULT 0,
		execute_after timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (issue_id, subscriber_email)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_queue_execute_after
		ON issue_delivery_queue (execute_after)`,
}

// Migrate applies the schema. Safe to run concurrently with other instances.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
