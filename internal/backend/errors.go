package backend

import (
	"errors"
	"fmt"
)

// Kind classifies a backend call failure.
type Kind string

const (
	KindNotFound     Kind = "NOT_FOUND"     // exam or session does not exist
	KindNotAvailable Kind = "NOT_AVAILABLE" // exam outside its time window or closed
	KindUnauthorized Kind = "UNAUTHORIZED"  // token rejected by the collaborator
	KindNetwork      Kind = "NETWORK"       // transport failure, timeout, connection refused
	KindServer       Kind = "SERVER"        // collaborator returned 5xx or a malformed body
)

// Error is a classified failure from the backend collaborator.
// Op is the logical operation: "start", "save" or "submit".
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("backend %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("backend %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind, or KindServer for unclassified errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindServer
}

// IsTransient reports whether a retry may reasonably succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServer:
		return true
	}
	return false
}
