package client

import (
	"errors"
	"fmt"

	apperrors "keygate/internal/errors"
)

var (
	// ErrNoCache is returned by a CacheStore that holds nothing
	ErrNoCache = errors.New("no cached license")

	// ErrTampered reports a cache whose checksum does not match its fields
	ErrTampered = errors.New("license cache checksum mismatch")

	// ErrNoLicense is returned by operations that need an activated key
	ErrNoLicense = errors.New("no license activated")

	// ErrKilled stops the companion after a kill verdict
	ErrKilled = errors.New("license disabled by administrator")
)

// APIError is a definitive answer from the license server, decoded from the
// uniform error body.
type APIError struct {
	Status             int
	Code               string
	Message            string
	Kill               bool
	Blocked            bool
	RequiresActivation bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Kind classifies the code with the server's error taxonomy
func (e *APIError) Kind() apperrors.Kind {
	return apperrors.KindOf(e.Code)
}

// NetworkError wraps a transport failure: the server gave no verdict.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AsAPIError unwraps err into an *APIError
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Retryable reports whether another attempt could change the outcome:
// transport failures, server faults and rate limiting.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	switch apiErr.Kind() {
	case apperrors.KindServerFault, apperrors.KindRateLimited:
		return true
	}
	return false
}
