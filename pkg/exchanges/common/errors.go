package common

import (
	"errors"
	"fmt"
)

// APIError is a rejection reported by an exchange.
type APIError struct {
	Exchange ExchangeID
	Status   int    // HTTP status
	Code     string // venue error code
	Message  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code %s, status %d)", e.Exchange, e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Exchange, e.Message, e.Status)
}

// IsAPICode reports whether err is an APIError with one of codes.
func IsAPICode(err error, codes ...string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.Code == c {
			return true
		}
	}
	return false
}
