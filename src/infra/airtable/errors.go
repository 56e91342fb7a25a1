package airtable

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// ErrUnavailable wraps transport failures, throttling and 5xx responses.
var ErrUnavailable = fmt.Errorf("airtable: %w", shared.ErrStoreUnavailable)

// SchemaError reports a field the base does not accept, either because the
// column does not exist or because it rejects the value type.
type SchemaError struct {
	Field   string
	Type    string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("airtable schema rejected field %q: %s", e.Field, e.Message)
}

// APIError is any other non-2xx response.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("airtable %d %s: %s", e.Status, e.Type, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return shared.ErrNotFound
	case e.Status == http.StatusTooManyRequests || e.Status >= 500:
		return ErrUnavailable
	}
	return nil
}

var (
	unknownFieldPattern = regexp.MustCompile(`Unknown field name: "([^"]+)"`)
	invalidValuePattern = regexp.MustCompile(`Field "([^"]+)" cannot accept`)
)

// classify turns an error response into a SchemaError when the message names
// a rejected field, or an APIError otherwise.
func classify(status int, errType, message string) error {
	if status == http.StatusUnprocessableEntity {
		for _, re := range []*regexp.Regexp{unknownFieldPattern, invalidValuePattern} {
			if m := re.FindStringSubmatch(message); len(m) == 2 {
				return &SchemaError{Field: m[1], Type: errType, Message: message}
			}
		}
	}
	return &APIError{Status: status, Type: errType, Message: message}
}
