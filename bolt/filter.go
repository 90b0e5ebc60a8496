package bolt

import (
	"reflect"
)

// MatchesFilter reports whether a payload satisfies a recursive partial
// match: for every key present in the filter, the corresponding payload key
// must exist and recursively match. The filter never needs to cover all
// payload keys, and an empty filter matches any payload.
func MatchesFilter(filter, payload map[string]any) bool {
	for key, want := range filter {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if !valueMatches(want, got) {
			return false
		}
	}
	return true
}

func valueMatches(want, got any) bool {
	wantMap, wantIsMap := want.(map[string]any)
	gotMap, gotIsMap := got.(map[string]any)
	if wantIsMap && gotIsMap {
		return MatchesFilter(wantMap, gotMap)
	}
	if wantIsMap != gotIsMap {
		return false
	}
	if numericEqual(want, got) {
		return true
	}
	return reflect.DeepEqual(want, got)
}

// numericEqual absorbs the int/float64 split between literal filters and
// JSON-decoded payloads.
func numericEqual(want, got any) bool {
	wf, wok := toFloat(want)
	gf, gok := toFloat(got)
	return wok && gok && wf == gf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
