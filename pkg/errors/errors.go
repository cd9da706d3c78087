package errors

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	// ErrNotFound is returned when a requested record or chapter is not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingFailure is returned when the embedding generator did not
	// produce a usable vector. No memory record is written when it occurs.
	ErrEmbeddingFailure = errors.New("embedding generation failed")

	// ErrMalformedIdentifier marks free text that carried no tagged identifier.
	// The identifier parser recovers from it locally and never returns it.
	ErrMalformedIdentifier = errors.New("malformed identifier")

	// ErrNoOpLevelUp is returned together with the unchanged stats when a
	// level-up is requested without a specification.
	ErrNoOpLevelUp = errors.New("level up specification missing")

	// ErrUnresolvedChapter is returned when a campaign has no chapter with the requested id
	ErrUnresolvedChapter = errors.New("chapter not found in campaign")

	// ErrStoreUnavailable is returned when the memory backend cannot be reached
	ErrStoreUnavailable = errors.New("memory store unavailable")

	// ErrGameOver is returned for actions taken after a game-ending resource ran out
	ErrGameOver = errors.New("game over")

	// ErrLuaExecution is returned when there's an error executing a Lua script
	ErrLuaExecution = errors.New("lua script execution error")
)

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, discarding nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
