package bolt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rig bundles the collaborators every app test needs: a running loop, an
// in-process host and an entity manager wired to it.
type rig struct {
	host *MemoryHost
	loop *Loop
	em   *EntityManager
}

func newRig(t *testing.T) *rig {
	t.Helper()
	loop := NewLoop(nopLogger{})
	loop.Start()
	t.Cleanup(loop.Stop)

	host := NewMemoryHost(nopLogger{})
	em, err := NewEntityManager(nopLogger{}, host, host.Restore(), host.Services(), loop)
	require.NoError(t, err)
	return &rig{host: host, loop: loop, em: em}
}

// on runs fn on the loop and waits, so tests never race the loop goroutine.
func (r *rig) on(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, r.loop.Do(context.Background(), fn))
}

func (r *rig) newApp(t *testing.T, cfg AppConfig) *App {
	t.Helper()
	if cfg.Host == nil {
		cfg.Host = r.host
	}
	if cfg.Loop == nil {
		cfg.Loop = r.loop
	}
	if cfg.Entities == nil {
		cfg.Entities = r.em
	}
	if cfg.Unit == "" {
		cfg.Unit = "test.unit"
	}
	if cfg.Name == "" {
		cfg.Name = "myapp"
	}
	if cfg.Setup == nil {
		cfg.Setup = func(*App) error { return nil }
	}
	app, err := NewApp(cfg)
	require.NoError(t, err)
	return app
}

func TestNewAppValidation(t *testing.T) {
	t.Parallel()
	loop := NewLoop(nopLogger{})
	host := NewMemoryHost(nopLogger{})
	setup := func(*App) error { return nil }

	_, err := NewApp(AppConfig{Loop: loop, Name: "a", Setup: setup})
	assert.ErrorIs(t, err, ErrNilHost)

	_, err = NewApp(AppConfig{Host: host, Name: "a", Setup: setup})
	assert.ErrorIs(t, err, ErrNilLoop)

	_, err = NewApp(AppConfig{Host: host, Loop: loop, Name: "a"})
	assert.ErrorIs(t, err, ErrNilSetup)

	_, err = NewApp(AppConfig{Host: host, Loop: loop, Setup: setup})
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestAppStartsWhenHostAlreadyRunning(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.host.Start()

	setupRan := false
	app := r.newApp(t, AppConfig{Setup: func(*App) error {
		setupRan = true
		return nil
	}})

	r.on(t, func() { require.NoError(t, app.Begin()) })
	r.on(t, func() {
		assert.Equal(t, Running, app.State())
		assert.True(t, setupRan)
	})
}

func TestAppDefersStartupUntilHostReady(t *testing.T) {
	t.Parallel()
	r := newRig(t)

	setupRan := false
	app := r.newApp(t, AppConfig{Setup: func(*App) error {
		setupRan = true
		return nil
	}})

	r.on(t, func() { require.NoError(t, app.Begin()) })
	r.on(t, func() {
		assert.Equal(t, AwaitingHostReady, app.State())
		assert.False(t, setupRan)
	})

	r.host.Start()
	r.on(t, func() {
		assert.Equal(t, Running, app.State())
		assert.True(t, setupRan)
	})
}

func TestAppSetupFailureLeavesInstanceRunning(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.host.Start()

	app := r.newApp(t, AppConfig{Setup: func(*App) error {
		return errors.New("bad config")
	}})

	r.on(t, func() { require.NoError(t, app.Begin()) })
	r.on(t, func() {
		// Startup failure is logged, not fatal: the instance stays and a
		// later gate cycle or reload can retry.
		assert.Equal(t, Running, app.State())
		assert.Zero(t, app.ListenerCount())
	})
}

func TestAppShutdownTearsEverythingDown(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.host.Start()

	app := r.newApp(t, AppConfig{Setup: func(a *App) error {
		a.ListenState([]string{"sensor.door"}, func(StateChange) {})
		a.ListenEvent("button.press", nil, func(Event) {})
		if err := a.RegisterService("announce", func(context.Context, ServiceCall) error {
			return nil
		}, nil); err != nil {
			return err
		}
		s, err := a.Sensor("count")
		if err != nil {
			return err
		}
		s.Set("1", nil)
		return nil
	}})

	r.on(t, func() { require.NoError(t, app.Begin()) })
	r.on(t, func() {
		assert.Equal(t, 2, app.ListenerCount())
		assert.Equal(t, 1, r.em.Len())
	})

	r.on(t, app.Shutdown)
	r.on(t, func() {
		assert.Equal(t, Stopped, app.State())
		assert.Zero(t, app.ListenerCount())
		assert.Zero(t, r.em.Len())
	})

	// The service registration must be gone from the host.
	err := r.host.Services().Call(context.Background(), "myapp", "announce", nil)
	assert.ErrorIs(t, err, ErrServiceNotFound)

	// The entity state must be gone too.
	_, ok := r.host.States().Get("sensor.myapp_count")
	assert.False(t, ok)
}

func TestAppShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.host.Start()

	app := r.newApp(t, AppConfig{Setup: func(a *App) error {
		a.ListenState([]string{"light.hall"}, func(StateChange) {})
		return nil
	}})

	r.on(t, func() { require.NoError(t, app.Begin()) })
	r.on(t, app.Shutdown)
	r.on(t, app.Shutdown)
	r.on(t, func() {
		assert.Equal(t, Stopped, app.State())
		assert.Zero(t, app.ListenerCount())
	})
}

func TestAppShutdownBeforeHostReadyCancelsPendingStartup(t *testing.T) {
	t.Parallel()
	r := newRig(t)

	setupRan := false
	app := r.newApp(t, AppConfig{Setup: func(*App) error {
		setupRan = true
		return nil
	}})

	r.on(t, func() { require.NoError(t, app.Begin()) })
	r.on(t, app.Shutdown)

	r.host.Start()
	r.on(t, func() {
		assert.Equal(t, Stopped, app.State())
		assert.False(t, setupRan)
	})
}

func TestGatedAppDefaultsToEnabled(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.host.Start()

	setupCount := 0
	app := r.newApp(t, AppConfig{Gated: true, Setup: func(*App) error {
		setupCount++
		return nil
	}})

	r.on(t, func() { require.NoError(t, app.Begin()) })
	r.on(t, func() { assert.Equal(t, 1, setupCount) })

	// The gate switch is published as a regular switch entity.
	st, ok := r.host.States().Get("switch.myapp_enabled")
	require.True(t, ok)
	assert.Equal(t, "on", st.Value)
}

func TestGatedAppRestoresOffPosition(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.host.Restore().Save("test.unit::myapp::enabled", &State{Value: "off"})
	r.host.Start()

	setupCount := 0
	app := r.newApp(t, AppConfig{Gated: true, Setup: func(a *App) error {
		setupCount++
		a.ListenState([]string{"sensor.window"}, func(StateChange) {})
		return nil
	}})

	r.on(t, func() { require.NoError(t, app.Begin()) })
	r.on(t, func() {
		assert.Equal(t, Running, app.State())
		assert.Zero(t, setupCount)
	})

	// Flipping the gate on through the service bus runs the startup routine.
	require.NoError(t, r.host.Services().Call(context.Background(), "switch", "turn_on",
		map[string]any{"entity_id": "switch.myapp_enabled"}))
	r.on(t, func() {
		assert.Equal(t, 1, setupCount)
		assert.Equal(t, 1, app.ListenerCount())
	})

	// Flipping it back off drains listeners without stopping the instance.
	require.NoError(t, r.host.Services().Call(context.Background(), "switch", "turn_off",
		map[string]any{"entity_id": "switch.myapp_enabled"}))
	r.on(t, func() {
		assert.Equal(t, Running, app.State())
		assert.Zero(t, app.ListenerCount())
	})

	// And on again reruns setup.
	require.NoError(t, r.host.Services().Call(context.Background(), "switch", "turn_on",
		map[string]any{"entity_id": "switch.myapp_enabled"}))
	r.on(t, func() { assert.Equal(t, 2, setupCount) })
}
