package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/AshinZhou/zero2prod-my/internal/domain/event"
	"github.com/AshinZhou/zero2prod-my/internal/domain/idempotency"
	"github.com/AshinZhou/zero2prod-my/internal/domain/issue"
	"github.com/AshinZhou/zero2prod-my/internal/infrastructure/postgres"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	beginErr error
}

func (f fakeTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.beginErr != nil {
		return f.beginErr
	}
	return fn(ctx)
}

type fakeIdemStore struct {
	reserveErr error
	saved      *idempotency.SavedResponse
	getErr     error
	// savedAfter hides the saved response from the first N reads, modelling a
	// winner that commits between the fast-path read and the reserve attempt.
	savedAfter int

	reserveCalls int
	getCalls     int
	savedCalls   []*idempotency.SavedResponse
}

func (s *fakeIdemStore) TryReserve(context.Context, uuid.UUID, string) error {
	s.reserveCalls++
	return s.reserveErr
}

func (s *fakeIdemStore) SaveResponse(_ context.Context, _ uuid.UUID, _ string, resp *idempotency.SavedResponse) error {
	s.savedCalls = append(s.savedCalls, resp)
	return nil
}

func (s *fakeIdemStore) GetSavedResponse(context.Context, uuid.UUID, string) (*idempotency.SavedResponse, error) {
	s.getCalls++
	if s.getCalls <= s.savedAfter {
		return nil, nil
	}
	return s.saved, s.getErr
}

type fakeIssueStore struct {
	created   []*issue.Issue
	createErr error
}

func (s *fakeIssueStore) Create(_ context.Context, i *issue.Issue) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, i)
	return nil
}

type fakeSubscribers struct {
	emails []string
}

func (s *fakeSubscribers) ListConfirmedEmails(context.Context) ([]string, error) {
	return s.emails, nil
}

type enqueueCall struct {
	issueID uuid.UUID
	emails  []string
}

type fakeEnqueuer struct {
	calls []enqueueCall
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, issueID uuid.UUID, emails []string) (int, error) {
	e.calls = append(e.calls, enqueueCall{issueID: issueID, emails: emails})
	return len(emails), nil
}

type fakeEvents struct {
	published []string
}

func (e *fakeEvents) Publish(_ context.Context, eventType, _ string, _ any) error {
	e.published = append(e.published, eventType)
	return nil
}

func validParams() PublishParams {
	return PublishParams{
		OperatorID:     uuid.New(),
		IdempotencyKey: "abc",
		Title:          "T",
		HTMLBody:       "<p>Hello</p>",
		TextBody:       "Hello",
	}
}

func newTestUsecase(idem *fakeIdemStore, issues *fakeIssueStore, queue *fakeEnqueuer, events EventPublisher) *PublishIssue {
	return NewPublishIssue(
		fakeTx{},
		idem,
		issues,
		&fakeSubscribers{emails: []string{"a@example.com", "b@example.com"}},
		queue,
		nil,
		events,
	)
}

func TestPublishFreshRequest(t *testing.T) {
	idem := &fakeIdemStore{}
	issues := &fakeIssueStore{}
	queue := &fakeEnqueuer{}
	events := &fakeEvents{}
	uc := newTestUsecase(idem, issues, queue, events)

	result, err := uc.Execute(context.Background(), validParams())
	require.NoError(t, err)

	assert.False(t, result.Replayed)
	assert.Equal(t, 2, result.Enqueued)
	assert.Equal(t, 200, result.Response.StatusCode)
	assert.Contains(t, string(result.Response.Body), "accepted")

	require.Len(t, issues.created, 1)
	assert.Equal(t, "T", issues.created[0].Title)

	require.Len(t, queue.calls, 1)
	assert.Equal(t, issues.created[0].ID, queue.calls[0].issueID)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, queue.calls[0].emails)

	// The response is saved inside the same transaction that produced it.
	require.Len(t, idem.savedCalls, 1)
	assert.Equal(t, result.Response, idem.savedCalls[0])

	assert.Equal(t, []string{event.TypeIssuePublished}, events.published)
}

func TestPublishReplaysSavedResponse(t *testing.T) {
	saved := &idempotency.SavedResponse{
		StatusCode: 200,
		Headers:    []idempotency.HeaderPair{{Name: "Content-Type", Value: "application/json"}},
		Body:       []byte(`{"status":"accepted"}`),
	}
	idem := &fakeIdemStore{saved: saved}
	issues := &fakeIssueStore{}
	queue := &fakeEnqueuer{}
	uc := newTestUsecase(idem, issues, queue, nil)

	result, err := uc.Execute(context.Background(), validParams())
	require.NoError(t, err)

	assert.True(t, result.Replayed)
	assert.Equal(t, saved, result.Response)

	// Replay must not re-execute side effects.
	assert.Empty(t, issues.created)
	assert.Empty(t, queue.calls)
	assert.Zero(t, idem.reserveCalls)
}

func TestPublishReplaySkipsContentValidation(t *testing.T) {
	// A resubmitted request is answered from the ledger even when its body
	// would no longer pass validation.
	saved := &idempotency.SavedResponse{StatusCode: 200, Body: []byte(`{"status":"accepted"}`)}
	idem := &fakeIdemStore{saved: saved}
	uc := newTestUsecase(idem, &fakeIssueStore{}, &fakeEnqueuer{}, nil)

	params := validParams()
	params.Title = ""

	result, err := uc.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, saved, result.Response)
}

func TestPublishLosingRaceReplaysWinner(t *testing.T) {
	// The key is taken but the fast path saw nothing: the winner committed
	// between our fast-path read and our reserve attempt.
	saved := &idempotency.SavedResponse{StatusCode: 200, Body: []byte("{}")}
	idem := &fakeIdemStore{
		reserveErr: postgres.ErrKeyAlreadyUsed,
		saved:      saved,
		savedAfter: 1,
	}
	issues := &fakeIssueStore{}
	queue := &fakeEnqueuer{}
	uc := newTestUsecase(idem, issues, queue, nil)

	result, err := uc.Execute(context.Background(), validParams())
	require.NoError(t, err)

	assert.True(t, result.Replayed)
	assert.Equal(t, saved, result.Response)
	assert.Empty(t, issues.created)
	assert.Empty(t, queue.calls)
}

func TestPublishConflictWhileWinnerInFlight(t *testing.T) {
	idem := &fakeIdemStore{reserveErr: postgres.ErrKeyAlreadyUsed, saved: nil}
	uc := newTestUsecase(idem, &fakeIssueStore{}, &fakeEnqueuer{}, nil)

	_, err := uc.Execute(context.Background(), validParams())
	assert.ErrorIs(t, err, ErrInFlight)
}

func TestPublishContendedReservationFailsFast(t *testing.T) {
	idem := &fakeIdemStore{reserveErr: postgres.ErrReserveContended}
	uc := newTestUsecase(idem, &fakeIssueStore{}, &fakeEnqueuer{}, nil)

	_, err := uc.Execute(context.Background(), validParams())
	assert.ErrorIs(t, err, ErrInFlight)
}

func TestPublishValidation(t *testing.T) {
	idem := &fakeIdemStore{}
	issues := &fakeIssueStore{}
	queue := &fakeEnqueuer{}
	uc := newTestUsecase(idem, issues, queue, nil)

	cases := []struct {
		name   string
		mutate func(*PublishParams)
	}{
		{"missing operator", func(p *PublishParams) { p.OperatorID = uuid.Nil }},
		{"empty key", func(p *PublishParams) { p.IdempotencyKey = "" }},
		{"empty title", func(p *PublishParams) { p.Title = "" }},
		{"empty html body", func(p *PublishParams) { p.HTMLBody = "" }},
		{"empty text body", func(p *PublishParams) { p.TextBody = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := validParams()
			tc.mutate(&params)

			_, err := uc.Execute(context.Background(), params)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}

	// Malformed input must leave no trace.
	assert.Zero(t, idem.reserveCalls)
	assert.Empty(t, issues.created)
	assert.Empty(t, queue.calls)
}

func TestPublishStoreFailurePropagates(t *testing.T) {
	idem := &fakeIdemStore{}
	issues := &fakeIssueStore{createErr: errors.New("connection reset")}
	queue := &fakeEnqueuer{}
	uc := newTestUsecase(idem, issues, queue, nil)

	_, err := uc.Execute(context.Background(), validParams())
	require.Error(t, err)

	// The fan-out and the response save never ran.
	assert.Empty(t, queue.calls)
	assert.Empty(t, idem.savedCalls)
}
