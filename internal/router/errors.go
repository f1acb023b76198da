package router

import "fmt"

// Request error classes, mirroring HTTP 400 and 422.
const (
	StatusBadRequest = 400
	StatusBadData    = 422
)

// RequestError is a terminal validation failure of a path request. It is
// never retried.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func badRequest(format string, args ...any) error {
	return &RequestError{Status: StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func badData(format string, args ...any) error {
	return &RequestError{Status: StatusBadData, Message: fmt.Sprintf(format, args...)}
}
