package session

import "errors"

var (
	// ErrNoActiveSession is returned when an operation needs a running
	// calibration or learning session and none is active.
	ErrNoActiveSession = errors.New("no active session")
	// ErrWrongStage is returned when an operation is not valid in the
	// current stage.
	ErrWrongStage = errors.New("operation not valid in current stage")
	// ErrDeckNotFound is returned for unknown deck ids.
	ErrDeckNotFound = errors.New("deck not found")
	// ErrInvalidPrompt is returned for a trial index outside the prompt bank.
	ErrInvalidPrompt = errors.New("invalid prompt index")
)
