package bolt

import (
	"fmt"
	"reflect"
	"time"

	"github.com/golobby/cast"
)

// Config returns the instance configuration as supplied at start time,
// routing keys already stripped.
func (a *App) Config() map[string]any { return a.config }

// Option looks a key up in the instance config, falling back to the unit
// manifest's options mapping. This is how manifest options act as
// constructor defaults.
func (a *App) Option(key string) (any, bool) {
	if v, ok := a.config[key]; ok {
		return v, true
	}
	if v, ok := a.defaults[key]; ok {
		return v, true
	}
	return nil, false
}

// OptionString returns a string option, or def when absent.
func (a *App) OptionString(key, def string) string {
	v, ok := a.Option(key)
	if !ok {
		return def
	}
	out, err := castTo[string](v)
	if err != nil {
		a.logger.Warn("option has wrong type", "key", key, "error", err)
		return def
	}
	return out
}

// OptionInt returns an integer option, or def when absent.
func (a *App) OptionInt(key string, def int) int {
	v, ok := a.Option(key)
	if !ok {
		return def
	}
	out, err := castTo[int](v)
	if err != nil {
		a.logger.Warn("option has wrong type", "key", key, "error", err)
		return def
	}
	return out
}

// OptionBool returns a boolean option, or def when absent.
func (a *App) OptionBool(key string, def bool) bool {
	v, ok := a.Option(key)
	if !ok {
		return def
	}
	out, err := castTo[bool](v)
	if err != nil {
		a.logger.Warn("option has wrong type", "key", key, "error", err)
		return def
	}
	return out
}

// OptionDuration returns a duration option ("30s", "5m"), or def when
// absent or unparseable.
func (a *App) OptionDuration(key string, def time.Duration) time.Duration {
	v, ok := a.Option(key)
	if !ok {
		return def
	}
	s, err := castTo[string](v)
	if err != nil {
		a.logger.Warn("option has wrong type", "key", key, "error", err)
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		a.logger.Warn("option is not a duration", "key", key, "error", err)
		return def
	}
	return d
}

// castTo coerces a config value to T, tolerating the usual YAML and JSON
// representation drift (quoted numbers, bare values read as strings).
func castTo[T any](v any) (T, error) {
	var zero T
	if out, ok := v.(T); ok {
		return out, nil
	}
	converted, err := cast.FromType(fmt.Sprint(v), reflect.TypeOf(zero))
	if err != nil {
		return zero, fmt.Errorf("casting %v: %w", v, err)
	}
	out, ok := converted.(T)
	if !ok {
		return zero, fmt.Errorf("casting %v: unexpected type %T", v, converted)
	}
	return out, nil
}
