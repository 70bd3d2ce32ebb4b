package triage

import "errors"

// Error kinds recorded on Record.Err. Stage errors wrap one of these.
var (
	ErrMissingTicket = errors.New("no ticket provided")
	ErrNoContext     = errors.New("no context available")
	ErrNoPriority    = errors.New("no priority available")
	ErrNoAssignee    = errors.New("no assignee available")
	ErrPersistence   = errors.New("persistence failure")

	// ErrInferenceUnavailable is always recovered by a local fallback and
	// never reaches Record.Err.
	ErrInferenceUnavailable = errors.New("inference service unavailable")

	// ErrTicketNotFound is returned by the trigger when the ticket does not exist.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrInvalidInput is returned for malformed create and update requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTriageFailed wraps Record.Err when a run finished with an error.
	ErrTriageFailed = errors.New("triage failed")
)
