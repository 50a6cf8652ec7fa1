package postgres

import (
	"context"
	"fmt"

	"github.com/AshinZhou/zero2prod-my/internal/domain/issue"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IssueRepository struct {
	pool *pgxpool.Pool
}

func NewIssueRepository(pool *pgxpool.Pool) *IssueRepository {
	return &IssueRepository{pool: pool}
}

func (r *IssueRepository) Create(ctx context.Context, i *issue.Issue) error {
	const sql = `
		INSERT INTO newsletter_issue (issue_id, title, html_body, text_body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	var executor interface {
		Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	} = r.pool

	if tx := GetTx(ctx); tx != nil {
		executor = tx
	}

	_, err := executor.Exec(ctx, sql, i.ID, i.Title, i.HTMLBody, i.TextBody, i.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert newsletter issue: %w", err)
	}

	return nil
}

func (r *IssueRepository) GetByID(ctx context.Context, id uuid.UUID) (*issue.Issue, error) {
	const sql = `
		SELECT issue_id, title, html_body, text_body, created_at
		FROM newsletter_issue
		WHERE issue_id = $1
	`

	var i issue.Issue
	err := r.pool.QueryRow(ctx, sql, id).Scan(&i.ID, &i.Title, &i.HTMLBody, &i.TextBody, &i.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get newsletter issue by id: %w", err)
	}

	return &i, nil
}
