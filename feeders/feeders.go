// Package feeders provides configuration feeders for the bolted daemon:
// whole-document and per-key feeding from YAML, TOML and JSON files, plus
// environment variable feeding with struct tags.
package feeders

import (
	"errors"
)

// Feeder populates a target from a configuration source.
type Feeder interface {
	Feed(target any) error
}

// KeyFeeder additionally extracts a single top-level key.
type KeyFeeder interface {
	Feeder
	FeedKey(key string, target any) error
}

var (
	ErrTargetNotPointer = errors.New("target must be a non-nil pointer")
	ErrTargetNotStruct  = errors.New("target must point to a struct")
	ErrFieldNotSettable = errors.New("field cannot be set")
)
