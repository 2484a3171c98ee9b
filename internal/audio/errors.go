package audio

import (
	"errors"
	"fmt"
)

// Sentinel errors for decode operations. Callers match these with errors.Is
// after unwrapping whatever context was added along the way.
var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrInvalidData       = errors.New("invalid audio data")
	ErrReadFailure       = errors.New("failed to read audio data")
	ErrInvalidState      = errors.New("invalid codec state")
	ErrResourceExhausted = errors.New("no codec instances available")
)

// InvalidStateError reports an operation called in a codec state that does
// not permit it. It matches ErrInvalidState under errors.Is so callers can
// branch without caring which operation tripped.
type InvalidStateError struct {
	Op    string
	State CodecState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("codec %s: %v in state %s", e.Op, ErrInvalidState, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// invalidState builds the error for an op rejected in the given state.
func invalidState(op string, state CodecState) error {
	return &InvalidStateError{Op: op, State: state}
}
