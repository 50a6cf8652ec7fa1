package issue

import (
	"time"

	"github.com/google/uuid"
)

// Issue is a published newsletter issue. Immutable after creation; the
// delivery worker only ever reads it.
type Issue struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	HTMLBody  string    `json:"html_body"`
	TextBody  string    `json:"text_body"`
	CreatedAt time.Time `json:"created_at"`
}
