package bolt

import (
	"errors"
)

var (
	// Loop errors
	ErrLoopNotRunning = errors.New("loop is not running")
	ErrLoopBufferFull = errors.New("loop job buffer is full")

	// App construction errors
	ErrNilHost     = errors.New("host is nil")
	ErrNilLoop     = errors.New("loop is nil")
	ErrNilSetup    = errors.New("setup function is nil")
	ErrEmptyName   = errors.New("instance name is empty")
	ErrNilCallback = errors.New("callback is nil")

	// Service errors
	ErrServiceAlreadyRegistered = errors.New("service already registered")
	ErrServiceNotFound          = errors.New("service not found")

	// Template errors
	ErrEmptyTemplate = errors.New("template expression is empty")

	// Entity errors
	ErrEntityManagerNil = errors.New("entity manager not configured")
)
