package bolt

import (
	"reflect"

	"github.com/traefik/yaegi/interp"
)

// Symbols exposes the bolt API to interpreted app units, in the layout
// yaegi's extract tooling produces. The loader installs these alongside the
// standard library so units can import
// "github.com/boltedhq/bolted/bolt" like any other package.
var Symbols = interp.Exports{
	"github.com/boltedhq/bolted/bolt/bolt": {
		// functions
		"ScopeLogger":   reflect.ValueOf(ScopeLogger),
		"MatchesFilter": reflect.ValueOf(MatchesFilter),
		"TriggerNow":    reflect.ValueOf(TriggerNow),
		"NewApp":        reflect.ValueOf(NewApp),

		// constants
		"PlatformSwitch":       reflect.ValueOf(PlatformSwitch),
		"PlatformSensor":       reflect.ValueOf(PlatformSensor),
		"PlatformBinarySensor": reflect.ValueOf(PlatformBinarySensor),
		"EventSource":          reflect.ValueOf(EventSource),

		// types
		"App":            reflect.ValueOf((*App)(nil)),
		"AppConfig":      reflect.ValueOf((*AppConfig)(nil)),
		"AppState":       reflect.ValueOf((*AppState)(nil)),
		"BinarySensor":   reflect.ValueOf((*BinarySensor)(nil)),
		"CancelFunc":     reflect.ValueOf((*CancelFunc)(nil)),
		"Event":          reflect.ValueOf((*Event)(nil)),
		"Handle":         reflect.ValueOf((*Handle)(nil)),
		"ListenOption":   reflect.ValueOf((*ListenOption)(nil)),
		"Logger":         reflect.ValueOf((*Logger)(nil)),
		"Platform":       reflect.ValueOf((*Platform)(nil)),
		"Sensor":         reflect.ValueOf((*Sensor)(nil)),
		"ServiceCall":    reflect.ValueOf((*ServiceCall)(nil)),
		"ServiceHandler": reflect.ValueOf((*ServiceHandler)(nil)),
		"ServiceSchema":  reflect.ValueOf((*ServiceSchema)(nil)),
		"SetupFunc":      reflect.ValueOf((*SetupFunc)(nil)),
		"State":          reflect.ValueOf((*State)(nil)),
		"StateChange":    reflect.ValueOf((*StateChange)(nil)),
		"Switch":         reflect.ValueOf((*Switch)(nil)),
		"WaitResult":     reflect.ValueOf((*WaitResult)(nil)),
	},
}
