package entity

import "errors"

var (
	// Connector errors
	ErrInvalidInstanceID   = errors.New("invalid instance id")
	ErrInvalidInstanceName = errors.New("invalid instance name")
	ErrInvalidTenantID     = errors.New("invalid tenant id")
	ErrInvalidStatus       = errors.New("invalid connector status")

	// Session errors
	ErrInvalidSessionID         = errors.New("invalid session id")
	ErrInvalidNumber            = errors.New("invalid phone number")
	ErrInvalidSessionTransition = errors.New("invalid session transition")
	ErrSessionClosed            = errors.New("session is closed")

	// Message errors
	ErrInvalidMessageID   = errors.New("invalid message id")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMissingResponse    = errors.New("completed message requires a response")
	ErrMessageTerminal    = errors.New("message already in terminal state")

	// Job errors
	ErrInvalidJobID        = errors.New("invalid job id")
	ErrInvalidProcessor    = errors.New("invalid processor type")
	ErrInvalidWorkerID     = errors.New("invalid worker id")
	ErrJobStateConflict    = errors.New("job state conflict")
	ErrJobAlreadyCompleted = errors.New("job already completed")

	// Contact errors
	ErrInvalidContactID = errors.New("invalid contact id")
)
