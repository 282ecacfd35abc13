package supervisor

import "errors"

// Configuration
var (
	ErrInvalidExecutable    = errors.New("invalid server executable")
	ErrMismatchedHeapBounds = errors.New("minimum heap is larger than maximum heap")
)

// Lifecycle
var (
	ErrAlreadyRunning      = errors.New("server already running")
	ErrNotRunning          = errors.New("server not running")
	ErrProcessLaunchFailed = errors.New("server process launch failed")
	ErrUnusualState        = errors.New("server process present without its pipes")
	ErrCommandTooLong      = errors.New("command too long")
)
