package delivery

import (
	"time"

	"github.com/google/uuid"
)

// Task is one pending delivery: issue X to subscriber Y. A row's existence
// means the delivery is still outstanding; both terminal states remove it.
type Task struct {
	IssueID         uuid.UUID `json:"issue_id"`
	SubscriberEmail string    `json:"subscriber_email"`
	RetryCount      int       `json:"retry_count"`
	ExecuteAfter    time.Time `json:"execute_after"`
}

// Outcome is the result of a single worker iteration.
type Outcome int

const (
	// EmptyQueue means no task was due; the caller should pause before retrying.
	EmptyQueue Outcome = iota
	// Delivered means the email went out and the task row was removed.
	Delivered
	// Failed means the attempt failed and the task was rescheduled with backoff.
	Failed
	// Abandoned means the task was removed without delivery, either because the
	// retry ceiling was reached or the stored address can never be delivered to.
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case EmptyQueue:
		return "empty_queue"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}
