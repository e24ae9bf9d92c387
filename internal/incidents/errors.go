package incidents

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidQuery = errors.New("invalid query")

type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint,omitempty"`
}

type ValidationError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details"`
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s %s", d.Field, d.Problem))
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidQuery
}

func invalid(message string, details []ErrorDetail) error {
	if len(details) == 0 {
		return nil
	}
	return &ValidationError{Code: "INVALID_QUERY", Message: message, Details: details}
}
