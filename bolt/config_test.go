package bolt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configuredApp(t *testing.T, config, defaults map[string]any) *App {
	t.Helper()
	app, err := NewApp(AppConfig{
		Host:     NewMemoryHost(nopLogger{}),
		Loop:     NewLoop(nopLogger{}),
		Name:     "cfg",
		Config:   config,
		Defaults: defaults,
		Setup:    func(*App) error { return nil },
	})
	require.NoError(t, err)
	return app
}

func TestOptionFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	app := configuredApp(t,
		map[string]any{"threshold": 5},
		map[string]any{"threshold": 10, "mode": "eco"})

	v, ok := app.Option("threshold")
	require.True(t, ok)
	assert.Equal(t, 5, v)

	v, ok = app.Option("mode")
	require.True(t, ok)
	assert.Equal(t, "eco", v)

	_, ok = app.Option("absent")
	assert.False(t, ok)
}

func TestTypedOptions(t *testing.T) {
	t.Parallel()
	app := configuredApp(t, map[string]any{
		"name":     "hall",
		"limit":    3,
		"enabled":  true,
		"interval": "45s",
	}, nil)

	assert.Equal(t, "hall", app.OptionString("name", "x"))
	assert.Equal(t, 3, app.OptionInt("limit", 0))
	assert.True(t, app.OptionBool("enabled", false))
	assert.Equal(t, 45*time.Second, app.OptionDuration("interval", time.Minute))

	assert.Equal(t, "x", app.OptionString("missing", "x"))
	assert.Equal(t, 9, app.OptionInt("missing", 9))
	assert.False(t, app.OptionBool("missing", false))
	assert.Equal(t, time.Minute, app.OptionDuration("missing", time.Minute))
}

func TestTypedOptionsCoerceRepresentationDrift(t *testing.T) {
	t.Parallel()
	// YAML and JSON decoding can hand back quoted numbers and bare strings.
	app := configuredApp(t, map[string]any{
		"limit":   "12",
		"enabled": "true",
	}, nil)

	assert.Equal(t, 12, app.OptionInt("limit", 0))
	assert.True(t, app.OptionBool("enabled", false))
}

func TestTypedOptionBadValueFallsBackToDefault(t *testing.T) {
	t.Parallel()
	app := configuredApp(t, map[string]any{
		"limit":    "plenty",
		"interval": "soon",
	}, nil)

	assert.Equal(t, 7, app.OptionInt("limit", 7))
	assert.Equal(t, time.Minute, app.OptionDuration("interval", time.Minute))
}
