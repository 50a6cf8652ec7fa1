package idempotency

import (
	"errors"
	"time"
)

// MaxKeyLength bounds client-supplied idempotency keys.
const MaxKeyLength = 50

var (
	ErrEmptyKey   = errors.New("idempotency key cannot be empty")
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length")
)

// ValidateKey checks a client-supplied idempotency key.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// HeaderPair is one response header. Order matters for byte-identical replay,
// so headers are kept as a sequence rather than a map.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SavedResponse is the HTTP outcome persisted for a processed request.
// A replayed request is answered with these fields verbatim.
type SavedResponse struct {
	StatusCode int          `json:"status_code"`
	Headers    []HeaderPair `json:"headers"`
	Body       []byte       `json:"body"`
}

// Record is the ledger row for one (operator, key) pair. The response fields
// are filled inside the same transaction that committed the side effects.
type Record struct {
	OperatorID string
	Key        string
	Response   SavedResponse
	CreatedAt  time.Time
}
