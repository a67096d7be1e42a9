package session

import "errors"

// State-machine errors surfaced by Runner operations.
var (
	// ErrSessionNotActive rejects mutations once the attempt left ACTIVE.
	ErrSessionNotActive = errors.New("exam session is not active")

	// ErrSubmitInProgress is the no-op result of a second submit invocation
	// racing the first. Callers treat it as "already being handled".
	ErrSubmitInProgress = errors.New("submission already in progress")

	// ErrUnknownQuestion rejects answers for questions outside the set.
	ErrUnknownQuestion = errors.New("question does not belong to this exam")

	// ErrUnknownOption rejects option labels the question does not offer.
	ErrUnknownOption = errors.New("option does not exist for this question")
)
