package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AshinZhou/zero2prod-my/internal/domain/delivery"
	"github.com/AshinZhou/zero2prod-my/internal/domain/event"
	"github.com/AshinZhou/zero2prod-my/internal/domain/issue"
	"github.com/AshinZhou/zero2prod-my/internal/domain/subscriber"
	"github.com/AshinZhou/zero2prod-my/internal/infrastructure/postgres"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_deliveries_total",
		Help: "The total number of newsletter emails delivered",
	})
	deliveryRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_delivery_retries_total",
		Help: "The total number of delivery attempts rescheduled after a failure",
	})
	deliveriesAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_deliveries_abandoned_total",
		Help: "The total number of delivery tasks dropped without delivery",
	})
)

type TaskQueue interface {
	DequeueDue(ctx context.Context) (*delivery.Task, error)
	Complete(ctx context.Context, t *delivery.Task) error
	Abandon(ctx context.Context, t *delivery.Task) error
	Reschedule(ctx context.Context, t *delivery.Task, delay time.Duration) error
}

type IssueSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*issue.Issue, error)
}

type EmailSender interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType, issueID string, payload any) error
}

type Config struct {
	Workers       int
	PollInterval  time.Duration
	ErrorInterval time.Duration
	MaxRetries    int
	SendTimeout   time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

// DeliveryRunner drains issue_delivery_queue. Any number of runners may work
// the same queue: each iteration claims one due task under a row lock that
// concurrent claims skip, so coordination happens entirely in the store.
type DeliveryRunner struct {
	txManager postgres.Transactor
	queue     TaskQueue
	issues    IssueSource
	sender    EmailSender
	events    EventPublisher // optional
	cfg       Config
}

func NewDeliveryRunner(
	txManager postgres.Transactor,
	queue TaskQueue,
	issues IssueSource,
	sender EmailSender,
	events EventPublisher,
	cfg Config,
) *DeliveryRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &DeliveryRunner{
		txManager: txManager,
		queue:     queue,
		issues:    issues,
		sender:    sender,
		events:    events,
		cfg:       cfg,
	}
}

// Run starts the configured number of worker loops and blocks until the
// context is canceled.
func (r *DeliveryRunner) Run(ctx context.Context) error {
	slog.Info("delivery runner started", "workers", r.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			r.runLoop(ctx, workerID)
		}()
	}
	wg.Wait()

	slog.Info("delivery runner stopped")
	return ctx.Err()
}

func (r *DeliveryRunner) runLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		outcome, err := r.TryExecuteTask(ctx)
		if err != nil {
			// Transient store trouble: nothing was committed, the task (if
			// any) is back in the queue, pause briefly and carry on.
			slog.Error("delivery iteration failed", "worker", workerID, "error", err)
			if sleep(ctx, r.cfg.ErrorInterval) != nil {
				return
			}
			continue
		}

		if outcome == delivery.EmptyQueue {
			if sleep(ctx, r.cfg.PollInterval) != nil {
				return
			}
		}
	}
}

// TryExecuteTask performs one bounded unit of work: claim a due task, attempt
// delivery, and durably record the result, all in one transaction. The row
// lock taken by the claim is held across the send, so no other worker can
// touch the task until the outcome commits.
func (r *DeliveryRunner) TryExecuteTask(ctx context.Context) (delivery.Outcome, error) {
	outcome := delivery.EmptyQueue
	var abandoned *event.DeliveryAbandoned

	err := r.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
		task, err := r.queue.DequeueDue(txCtx)
		if err != nil {
			return err
		}

		outcome, abandoned, err = r.processTask(txCtx, task)
		return err
	})

	if errors.Is(err, postgres.ErrEmptyQueue) {
		return delivery.EmptyQueue, nil
	}
	if err != nil {
		return delivery.EmptyQueue, fmt.Errorf("delivery task transaction: %w", err)
	}

	r.recordOutcome(ctx, outcome, abandoned)
	return outcome, nil
}

func (r *DeliveryRunner) processTask(ctx context.Context, task *delivery.Task) (delivery.Outcome, *event.DeliveryAbandoned, error) {
	iss, err := r.issues.GetByID(ctx, task.IssueID)
	if err != nil {
		return delivery.EmptyQueue, nil, err
	}

	addr, err := subscriber.ParseEmail(task.SubscriberEmail)
	if err != nil {
		// A malformed stored address will never become valid; retrying is
		// pointless.
		slog.Warn("skipping subscriber with invalid stored address",
			"issue_id", task.IssueID, "error", err)
		if err := r.queue.Abandon(ctx, task); err != nil {
			return delivery.EmptyQueue, nil, err
		}
		return delivery.Abandoned, abandonedEvent(task, "invalid subscriber email"), nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	sendErr := r.sender.Send(sendCtx, addr.String(), iss.Title, iss.HTMLBody, iss.TextBody)
	cancel()

	if sendErr == nil {
		if err := r.queue.Complete(ctx, task); err != nil {
			return delivery.EmptyQueue, nil, err
		}
		return delivery.Delivered, nil, nil
	}

	// A timed-out send counts as a failure; at-least-once delivery is the
	// accepted trade-off and the task must not be lost.
	if task.RetryCount+1 >= r.cfg.MaxRetries {
		slog.Warn("abandoning delivery task at retry ceiling",
			"issue_id", task.IssueID, "subscriber_email", task.SubscriberEmail,
			"retry_count", task.RetryCount, "error", sendErr)
		if err := r.queue.Abandon(ctx, task); err != nil {
			return delivery.EmptyQueue, nil, err
		}
		return delivery.Abandoned, abandonedEvent(task, sendErr.Error()), nil
	}

	delay := nextBackoff(r.cfg.BackoffBase, r.cfg.BackoffCap, task.RetryCount)
	slog.Info("rescheduling failed delivery task",
		"issue_id", task.IssueID, "retry_count", task.RetryCount+1,
		"delay", delay, "error", sendErr)
	if err := r.queue.Reschedule(ctx, task, delay); err != nil {
		return delivery.EmptyQueue, nil, err
	}
	return delivery.Failed, nil, nil
}

func abandonedEvent(task *delivery.Task, reason string) *event.DeliveryAbandoned {
	return &event.DeliveryAbandoned{
		IssueID:         task.IssueID.String(),
		SubscriberEmail: task.SubscriberEmail,
		RetryCount:      task.RetryCount,
		Reason:          reason,
	}
}

// recordOutcome updates metrics and emits the abandonment event. Runs after
// commit so observers never see an outcome that was rolled back.
func (r *DeliveryRunner) recordOutcome(ctx context.Context, outcome delivery.Outcome, abandoned *event.DeliveryAbandoned) {
	switch outcome {
	case delivery.Delivered:
		deliveriesTotal.Inc()
	case delivery.Failed:
		deliveryRetriesTotal.Inc()
	case delivery.Abandoned:
		deliveriesAbandonedTotal.Inc()
	}

	if abandoned == nil || r.events == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := r.events.Publish(pubCtx, event.TypeDeliveryAbandoned, abandoned.IssueID, abandoned)
	if err != nil {
		slog.Warn("failed to publish abandonment event", "issue_id", abandoned.IssueID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
