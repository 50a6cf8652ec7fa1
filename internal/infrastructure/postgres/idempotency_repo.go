package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AshinZhou/zero2prod-my/internal/domain/idempotency"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrKeyAlreadyUsed signals that the (operator, key) pair is already
	// reserved. This is the expected path for retried requests, not a failure.
	ErrKeyAlreadyUsed = errors.New("idempotency key already used")
	// ErrReserveContended signals that another in-flight request holds an
	// uncommitted reservation for the same key.
	ErrReserveContended = errors.New("idempotency key reservation held by a concurrent request")
)

// lockNotAvailable is the SQLSTATE raised when lock_timeout expires.
const lockNotAvailable = "55P03"

type IdempotencyRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewIdempotencyRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool, lockTimeout: lockTimeout}
}

// TryReserve claims the (operator, key) pair inside the caller's transaction.
// The insert keeps the response columns NULL; SaveResponse fills them before
// the same transaction commits, so a committed row is always complete.
//
// A duplicate key returns ErrKeyAlreadyUsed. If the winning request has not
// committed yet, the insert would block on its uncommitted row; lock_timeout
// bounds that wait and the expiry maps to ErrReserveContended so the caller
// can fail fast instead of queueing behind the winner.
//
// SET LOCAL scopes the timeout to the transaction, not the statement, so the
// ceiling deliberately stays in force for the rest of the publish transaction:
// none of its later writes may queue unboundedly behind another session either.
func (r *IdempotencyRepository) TryReserve(ctx context.Context, operatorID uuid.UUID, key string) error {
	tx := GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("idempotency reserve requires a transaction")
	}

	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, timeout); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	const sql = `
		INSERT INTO idempotency (operator_id, idempotency_key, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (operator_id, idempotency_key) DO NOTHING
	`

	tag, err := tx.Exec(ctx, sql, operatorID, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return ErrReserveContended
		}
		return fmt.Errorf("reserve idempotency key: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrKeyAlreadyUsed
	}

	return nil
}

// SaveResponse finalizes the reserved row with the HTTP outcome. Must run in
// the same transaction as TryReserve.
func (r *IdempotencyRepository) SaveResponse(ctx context.Context, operatorID uuid.UUID, key string, resp *idempotency.SavedResponse) error {
	tx := GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("idempotency save requires a transaction")
	}

	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("marshal response headers: %w", err)
	}

	const sql = `
		UPDATE idempotency
		SET response_status_code = $3,
			response_headers = $4,
			response_body = $5
		WHERE operator_id = $1 AND idempotency_key = $2
	`

	tag, err := tx.Exec(ctx, sql, operatorID, key, resp.StatusCode, headers, resp.Body)
	if err != nil {
		return fmt.Errorf("save idempotency response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency key not reserved")
	}

	return nil
}

// GetSavedResponse returns the persisted outcome for a committed key, or nil
// if the key is unknown or its owning transaction has not committed yet.
func (r *IdempotencyRepository) GetSavedResponse(ctx context.Context, operatorID uuid.UUID, key string) (*idempotency.SavedResponse, error) {
	const sql = `
		SELECT response_status_code, response_headers, response_body
		FROM idempotency
		WHERE operator_id = $1
			AND idempotency_key = $2
			AND response_status_code IS NOT NULL
	`

	var (
		status  int
		headers []byte
		body    []byte
	)
	err := r.pool.QueryRow(ctx, sql, operatorID, key).Scan(&status, &headers, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get saved response: %w", err)
	}

	resp := &idempotency.SavedResponse{
		StatusCode: status,
		Body:       body,
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &resp.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal response headers: %w", err)
		}
	}

	return resp, nil
}
