package check

import (
	"errors"
	"fmt"
)

// ErrAlreadyInProgress is returned by Create when an active session already
// exists for the repository key. No state is mutated.
var ErrAlreadyInProgress = errors.New("check already in progress for repository")

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// CancelledError is the session error text for user-initiated cancellation.
// It distinguishes cancelled runs from genuine failures.
const CancelledError = "cancelled"

// RepositoryUnavailableError signals that the repository snapshot could not
// be obtained; the session fails immediately and the core does not retry.
type RepositoryUnavailableError struct {
	Key RepoKey
	Err error
}

func (e *RepositoryUnavailableError) Error() string {
	return fmt.Sprintf("repository %s (branch %q) unavailable: %v", e.Key.RepoURL, e.Key.Branch, e.Err)
}

func (e *RepositoryUnavailableError) Unwrap() error { return e.Err }
