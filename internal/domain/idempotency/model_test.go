package idempotency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("abc"))
	assert.NoError(t, ValidateKey(strings.Repeat("k", MaxKeyLength)))

	assert.ErrorIs(t, ValidateKey(""), ErrEmptyKey)
	assert.ErrorIs(t, ValidateKey(strings.Repeat("k", MaxKeyLength+1)), ErrKeyTooLong)
}
