package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriberRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriberRepository(pool *pgxpool.Pool) *SubscriberRepository {
	return &SubscriberRepository{pool: pool}
}

// ListConfirmedEmails returns the stored addresses of confirmed subscribers.
// Addresses are returned as stored; validation happens at send time because a
// row that was valid at sign-up may predate stricter validation rules.
func (r *SubscriberRepository) ListConfirmedEmails(ctx context.Context) ([]string, error) {
	const sql = `
		SELECT email
		FROM subscriptions
		WHERE status = 'confirmed'
	`

	var rows pgx.Rows
	var err error
	if tx := GetTx(ctx); tx != nil {
		rows, err = tx.Query(ctx, sql)
	} else {
		rows, err = r.pool.Query(ctx, sql)
	}
	if err != nil {
		return nil, fmt.Errorf("query confirmed subscribers: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan subscriber email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate confirmed subscribers: %w", err)
	}

	return emails, nil
}
