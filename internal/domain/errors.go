package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is the parent of every input validation error.
	ErrInvalidInput = errors.New("invalid input")

	ErrEmptyQuestion    = fmt.Errorf("%w: question is required", ErrInvalidInput)
	ErrEmptyAnswer      = fmt.Errorf("%w: answer is required", ErrInvalidInput)
	ErrNothingToCorrect = fmt.Errorf("%w: need a valid question to correct", ErrInvalidInput)
	ErrNoValidPairs     = fmt.Errorf("%w: no valid question/answer pairs", ErrInvalidInput)

	// ErrSelfReference rejects answers that normalize to their own question.
	ErrSelfReference = errors.New("answer cannot be the same as the question")

	// ErrNoSnapshot is returned by snapshotters that have nothing saved.
	ErrNoSnapshot = errors.New("no index snapshot")
)

// IsUserError reports whether err should be shown to the end user verbatim.
// Everything else degrades to "no answer found".
func IsUserError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrSelfReference)
}
