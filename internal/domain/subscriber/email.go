package subscriber

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Email is a syntactically valid subscriber email address.
type Email struct {
	value string
}

// ParseEmail validates a stored address. A malformed address will never
// become valid, so callers treat a parse failure as permanent.
func ParseEmail(s string) (Email, error) {
	if err := validate.Var(s, "required,email"); err != nil {
		return Email{}, fmt.Errorf("%q is not a valid subscriber email", s)
	}
	return Email{value: s}, nil
}

func (e Email) String() string {
	return e.value
}
