package syncop

import (
	"errors"
	"fmt"
)

// DefaultMaxRounds bounds the batches one Run may apply.
// It stops a run whose source keeps producing changes faster than the
// target absorbs them.
const DefaultMaxRounds = 1000

// RoundsExceededError is returned when Run hits its round limit. The
// rounds already applied stay committed; running again continues.
type RoundsExceededError struct {
	Operation string
	Rounds    int
	Limit     int
}

// Error implements the error interface.
func (e *RoundsExceededError) Error() string {
	return fmt.Sprintf("operation %s exceeded max rounds: %d rounds >= %d limit",
		e.Operation, e.Rounds, e.Limit)
}

// IsRoundsExceeded returns true if the error is a RoundsExceededError.
// Uses errors.As to handle wrapped errors.
func IsRoundsExceeded(err error) bool {
	var re *RoundsExceededError
	return errors.As(err, &re)
}

// StepError reports which member of a chain failed.
type StepError struct {
	Chain string
	Step  string
	Index int
	Err   error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("chain %s: step %d (%s): %v", e.Chain, e.Index, e.Step, e.Err)
}

// Unwrap returns the member's error so engine error predicates still match.
func (e *StepError) Unwrap() error {
	return e.Err
}
