package service

import "fmt"

// Kind classifies caller-visible failures.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindRateLimited   Kind = "rate_limited"
	KindConfiguration Kind = "configuration"
	KindUpstream      Kind = "upstream"
)

// Error is returned by Service for every failure a caller may see. Message
// is safe to show to end users; Err holds the internal cause and is only
// logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}
