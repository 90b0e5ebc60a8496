package bolted

import (
	"errors"
)

var (
	// Catalog errors
	ErrRootNotFound    = errors.New("units root directory not found")
	ErrManifestInvalid = errors.New("manifest is invalid")

	// Configuration errors
	ErrConfigMissingKeys = errors.New("config entry is missing required keys (app, name)")
	ErrDuplicateInstance = errors.New("duplicate instance name")
	ErrConfigUnreadable  = errors.New("apps configuration could not be read")

	// Supervisor errors
	ErrUnknownUnit        = errors.New("unit is not in the catalog")
	ErrInstanceRunning    = errors.New("instance is already running")
	ErrInstanceNotRunning = errors.New("instance is not running")

	// Loader errors
	ErrUnknownRequirement = errors.New("requirement is not registered")
	ErrMissingEntryPoint  = errors.New("unit does not define a Setup function")
	ErrBadEntryPoint      = errors.New("unit Setup has the wrong signature")
	ErrUnitEvalFailed     = errors.New("unit source failed to evaluate")

	// Watcher errors
	ErrWatcherAlreadyRunning = errors.New("watcher is already running")
)
