package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AshinZhou/zero2prod-my/internal/domain/event"
	"github.com/AshinZhou/zero2prod-my/internal/domain/idempotency"
	"github.com/AshinZhou/zero2prod-my/internal/domain/issue"
	"github.com/AshinZhou/zero2prod-my/internal/infrastructure/postgres"

	"github.com/google/uuid"
)

// ErrInFlight signals that another request holds an uncommitted reservation
// for the same idempotency key. Callers should retry after a short delay; by
// then the winner will have committed and they will observe the replay.
var ErrInFlight = errors.New("a request with this idempotency key is already being processed")

// ValidationError reports malformed publish input. Nothing is persisted, so
// retrying with corrected input and the same key is safe.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type IdempotencyStore interface {
	TryReserve(ctx context.Context, operatorID uuid.UUID, key string) error
	SaveResponse(ctx context.Context, operatorID uuid.UUID, key string, resp *idempotency.SavedResponse) error
	GetSavedResponse(ctx context.Context, operatorID uuid.UUID, key string) (*idempotency.SavedResponse, error)
}

type IssueStore interface {
	Create(ctx context.Context, i *issue.Issue) error
}

type SubscriberSource interface {
	ListConfirmedEmails(ctx context.Context) ([]string, error)
}

type DeliveryEnqueuer interface {
	Enqueue(ctx context.Context, issueID uuid.UUID, emails []string) (int, error)
}

type ResponseCache interface {
	Get(ctx context.Context, operatorID uuid.UUID, key string) *idempotency.SavedResponse
	Set(ctx context.Context, operatorID uuid.UUID, key string, resp *idempotency.SavedResponse)
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType, issueID string, payload any) error
}

type PublishIssue struct {
	txManager   postgres.Transactor
	idemStore   IdempotencyStore
	issueStore  IssueStore
	subscribers SubscriberSource
	queue       DeliveryEnqueuer
	cache       ResponseCache  // optional
	events      EventPublisher // optional
}

func NewPublishIssue(
	txManager postgres.Transactor,
	idemStore IdempotencyStore,
	issueStore IssueStore,
	subscribers SubscriberSource,
	queue DeliveryEnqueuer,
	cache ResponseCache,
	events EventPublisher,
) *PublishIssue {
	return &PublishIssue{
		txManager:   txManager,
		idemStore:   idemStore,
		issueStore:  issueStore,
		subscribers: subscribers,
		queue:       queue,
		cache:       cache,
		events:      events,
	}
}

type PublishParams struct {
	OperatorID     uuid.UUID
	IdempotencyKey string
	Title          string
	HTMLBody       string
	TextBody       string
}

type PublishResult struct {
	Response *idempotency.SavedResponse
	Replayed bool
	IssueID  uuid.UUID // zero when replayed
	Enqueued int
}

type acceptedBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// acceptedResponse is the fixed success outcome. It is computed before the
// transaction and saved inside it, so fresh and replayed responses are
// byte-identical.
func acceptedResponse() (*idempotency.SavedResponse, error) {
	body, err := json.Marshal(acceptedBody{
		Status:  "accepted",
		Message: "The newsletter issue has been accepted - emails will go out shortly.",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal accepted response: %w", err)
	}

	return &idempotency.SavedResponse{
		StatusCode: http.StatusOK,
		Headers: []idempotency.HeaderPair{
			{Name: "Content-Type", Value: "application/json"},
		},
		Body: body,
	}, nil
}

// validateIdentity covers the fields needed to address the ledger. Checked
// before the replay fast path.
func (p PublishParams) validateIdentity() error {
	if p.OperatorID == uuid.Nil {
		return &ValidationError{Field: "operator_id", Reason: "must be set"}
	}
	if err := idempotency.ValidateKey(p.IdempotencyKey); err != nil {
		return &ValidationError{Field: "idempotency_key", Reason: err.Error()}
	}
	return nil
}

// validateContent covers the issue payload. A replayed request skips this:
// the saved response is returned without re-validating input.
func (p PublishParams) validateContent() error {
	if p.Title == "" {
		return &ValidationError{Field: "title", Reason: "cannot be empty"}
	}
	if p.HTMLBody == "" {
		return &ValidationError{Field: "content.html", Reason: "cannot be empty"}
	}
	if p.TextBody == "" {
		return &ValidationError{Field: "content.text", Reason: "cannot be empty"}
	}
	return nil
}

// Execute runs one publish request. Exactly one transaction commits per
// (operator, key): the issue row, the full delivery fan-out, and the saved
// response become visible together or not at all. Retried requests are
// answered by replaying the saved response without re-executing anything.
func (uc *PublishIssue) Execute(ctx context.Context, params PublishParams) (*PublishResult, error) {
	if err := params.validateIdentity(); err != nil {
		return nil, err
	}

	if replayed := uc.lookupReplay(ctx, params); replayed != nil {
		return replayed, nil
	}

	if err := params.validateContent(); err != nil {
		return nil, err
	}

	newIssue := &issue.Issue{
		ID:        uuid.New(),
		Title:     params.Title,
		HTMLBody:  params.HTMLBody,
		TextBody:  params.TextBody,
		CreatedAt: time.Now().UTC(),
	}

	accepted, err := acceptedResponse()
	if err != nil {
		return nil, err
	}

	var enqueued int
	err = uc.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := uc.idemStore.TryReserve(txCtx, params.OperatorID, params.IdempotencyKey); err != nil {
			return err
		}

		if err := uc.issueStore.Create(txCtx, newIssue); err != nil {
			return err
		}

		emails, err := uc.subscribers.ListConfirmedEmails(txCtx)
		if err != nil {
			return err
		}

		enqueued, err = uc.queue.Enqueue(txCtx, newIssue.ID, emails)
		if err != nil {
			return err
		}

		return uc.idemStore.SaveResponse(txCtx, params.OperatorID, params.IdempotencyKey, accepted)
	})

	switch {
	case errors.Is(err, postgres.ErrKeyAlreadyUsed):
		// Someone else won the key. If their response is committed, replay
		// it; otherwise tell the caller to retry shortly.
		saved, getErr := uc.idemStore.GetSavedResponse(ctx, params.OperatorID, params.IdempotencyKey)
		if getErr != nil {
			return nil, getErr
		}
		if saved == nil {
			return nil, ErrInFlight
		}
		uc.cacheResponse(ctx, params, saved)
		return &PublishResult{Response: saved, Replayed: true}, nil
	case errors.Is(err, postgres.ErrReserveContended):
		return nil, ErrInFlight
	case err != nil:
		return nil, fmt.Errorf("publish transaction failed: %w", err)
	}

	uc.cacheResponse(ctx, params, accepted)
	uc.announcePublished(ctx, newIssue, enqueued)

	return &PublishResult{
		Response: accepted,
		IssueID:  newIssue.ID,
		Enqueued: enqueued,
	}, nil
}

// lookupReplay is the fast path for resubmitted requests: redis first, then
// the committed ledger. Returns nil when the key is unknown.
func (uc *PublishIssue) lookupReplay(ctx context.Context, params PublishParams) *PublishResult {
	if uc.cache != nil {
		if resp := uc.cache.Get(ctx, params.OperatorID, params.IdempotencyKey); resp != nil {
			return &PublishResult{Response: resp, Replayed: true}
		}
	}

	resp, err := uc.idemStore.GetSavedResponse(ctx, params.OperatorID, params.IdempotencyKey)
	if err != nil || resp == nil {
		// A ledger read error is not fatal here; the transactional path
		// below settles the outcome either way.
		return nil
	}

	uc.cacheResponse(ctx, params, resp)
	return &PublishResult{Response: resp, Replayed: true}
}

func (uc *PublishIssue) cacheResponse(ctx context.Context, params PublishParams, resp *idempotency.SavedResponse) {
	if uc.cache != nil {
		uc.cache.Set(ctx, params.OperatorID, params.IdempotencyKey, resp)
	}
}

func (uc *PublishIssue) announcePublished(ctx context.Context, i *issue.Issue, enqueued int) {
	if uc.events == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := uc.events.Publish(pubCtx, event.TypeIssuePublished, i.ID.String(), event.IssuePublished{
		IssueID:       i.ID.String(),
		Title:         i.Title,
		EnqueuedTasks: enqueued,
	})
	if err != nil {
		slog.Warn("failed to publish issue event", "issue_id", i.ID, "error", err)
	}
}
