package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrNoAccessToken      = errors.New("no access token in response")
	ErrInvalidJSON        = errors.New("invalid JSON response")
	ErrInvalidDateRange   = errors.New("invalid date format or range")
	ErrMissingCredentials = errors.New("CLIENT_ID and CLIENT_SECRET must be set")
	ErrEmptyTable         = errors.New("table has no records")
)

// AuthenticationError reports a failed token issuance for one scope.
type AuthenticationError struct {
	Scope string
	Msg   string
	Err   error
}

func (e *AuthenticationError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "authentication failed"
	}
	if e.Scope != "" {
		msg = fmt.Sprintf("%s (scope %s)", msg, e.Scope)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RequestError is a transport failure or a non-2xx response.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("%s request to %s returned status %d", e.Method, e.URL, e.StatusCode)
		if e.Body != "" {
			msg += ": " + e.Body
		}
		return msg
	}
	return fmt.Sprintf("failed to make %s request to %s: %v", e.Method, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch activity logs: %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type DatasetError struct {
	Op        string
	DatasetID string
	Err       error
}

func (e *DatasetError) Error() string {
	if e.DatasetID != "" {
		return fmt.Sprintf("dataset %s: %s: %v", e.DatasetID, e.Op, e.Err)
	}
	return fmt.Sprintf("dataset: %s: %v", e.Op, e.Err)
}

func (e *DatasetError) Unwrap() error { return e.Err }
