package event

import (
	"encoding/json"
	"time"
)

const (
	TypeIssuePublished    = "issue.published"
	TypeDeliveryAbandoned = "delivery.abandoned"
)

// Message is the envelope published to Kafka.
// Payload is kept as raw JSON produced by the originating component.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Producer   string          `json:"producer"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// IssuePublished is emitted after a fresh publish commits.
type IssuePublished struct {
	IssueID       string `json:"issue_id"`
	Title         string `json:"title"`
	EnqueuedTasks int    `json:"enqueued_tasks"`
}

// DeliveryAbandoned is emitted when the worker drops a task without
// delivering it. This is the only operator-facing abandonment signal
// besides metrics; the queue itself keeps no terminal record.
type DeliveryAbandoned struct {
	IssueID         string `json:"issue_id"`
	SubscriberEmail string `json:"subscriber_email"`
	RetryCount      int    `json:"retry_count"`
	Reason          string `json:"reason"`
}
