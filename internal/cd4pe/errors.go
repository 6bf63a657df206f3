package cd4pe

import "fmt"

// ConnectionError means the CD4PE service could not be reached at all.
type ConnectionError struct {
	Service string // scheme://host:port
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not connect to the CD4PE service at %s: %v", e.Service, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ServerExhaustedError means every attempt ended in a 5xx response.
type ServerExhaustedError struct {
	Service    string
	Attempts   int
	StatusCode int
	Body       string
}

func (e *ServerExhaustedError) Error() string {
	return fmt.Sprintf("received %d server error responses from the CD4PE service at %s: %d %s",
		e.Attempts, e.Service, e.StatusCode, e.Body)
}

// InvalidVerbError is returned when Send is called with an unsupported HTTP verb.
type InvalidVerbError struct {
	Verb Verb
}

func (e *InvalidVerbError) Error() string {
	return fmt.Sprintf("cd4pe: Send called with invalid request type %q", string(e.Verb))
}

// APIError is a non-success response that a caller decided is fatal for
// the operation it made.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: Message: %s Code: %d", e.Op, e.Body, e.StatusCode)
}

// NewAPIError builds an APIError from a response.
func NewAPIError(op string, resp *Response) *APIError {
	return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(resp.Body)}
}
