package trip

import "errors"

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnknownEntity          = errors.New("unknown entity")
	ErrInvalidFeedback        = errors.New("invalid feedback")
)
