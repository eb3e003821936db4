package client

import (
	"fmt"
	"net/http"
)

// Response is the normalized outcome of one inference call. A successful
// response carries the raw body; a failure carries the status code (0 when
// no HTTP status was received) and a message.
type Response struct {
	Success    bool
	StatusCode int
	Body       string
	Message    string
}

// Succeeded builds a success response
func Succeeded(body string) Response {
	return Response{Success: true, StatusCode: http.StatusOK, Body: body}
}

// Failed builds a failure response
func Failed(statusCode int, message string) Response {
	return Response{StatusCode: statusCode, Message: message}
}

// FromStatus classifies an HTTP status and body into a response
func FromStatus(statusCode int, body string) Response {
	if statusCode == http.StatusOK {
		return Succeeded(body)
	}
	return Failed(statusCode, body)
}

// IsAuthError reports whether the failure is an authorization fault
func IsAuthError(r Response) bool {
	return !r.Success && (r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden)
}

// Err converts a failed response into an error; success yields nil
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	if r.StatusCode == 0 {
		return fmt.Errorf("inference failed: %s", r.Message)
	}
	return fmt.Errorf("inference failed with status %d: %s", r.StatusCode, r.Message)
}
