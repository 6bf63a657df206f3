package cd4pe

import (
	"encoding/json"
	"fmt"
)

// Class is the coarse classification of an HTTP response.
type Class string

const (
	ClassSuccess        Class = "success"
	ClassRedirection    Class = "redirection"
	ClassClientError    Class = "client_error"
	ClassServerError    Class = "server_error"
	ClassTransportError Class = "transport_error"
)

// Classify maps a status code onto its Class. Codes outside 1xx–5xx are
// reported as transport errors since no conforming server sends them.
func Classify(statusCode int) Class {
	switch {
	case statusCode >= 100 && statusCode < 300:
		return ClassSuccess
	case statusCode >= 300 && statusCode < 400:
		return ClassRedirection
	case statusCode >= 400 && statusCode < 500:
		return ClassClientError
	case statusCode >= 500 && statusCode < 600:
		return ClassServerError
	default:
		return ClassTransportError
	}
}

// Response is a fully-read CD4PE response.
type Response struct {
	Class      Class
	StatusCode int
	Body       []byte
}

// OK reports whether the response is a success or redirection.
func (r *Response) OK() bool {
	return r.Class == ClassSuccess || r.Class == ClassRedirection
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode CD4PE response (status %d): %w", r.StatusCode, err)
	}
	return nil
}
