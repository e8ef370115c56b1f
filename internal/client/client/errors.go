package client

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

var (
	ErrUnavailable    = errors.New("server unavailable")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrServerRejected = errors.New("server rejected request")
	ErrNotFound       = errors.New("not found")
	ErrNotSignedIn    = errors.New("not signed in")
)

// RejectedError is a request the server understood and refused: validation,
// missing record, version conflict or a policy such as keeping the last
// unlock credential.
type RejectedError struct {
	Code    codes.Code
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected request: %s: %s", e.Code, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	switch target {
	case ErrServerRejected:
		return true
	case ErrNotFound:
		return e.Code == codes.NotFound
	}
	return false
}
