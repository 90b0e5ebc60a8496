package bolt

import (
	"fmt"
)

// Lifecycle state of an app instance.
type AppState int

const (
	// Constructed means the instance exists but has not been scheduled.
	Constructed AppState = iota
	// AwaitingHostReady means startup is deferred until the host finishes
	// its own startup.
	AwaitingHostReady
	// Running means the instance has reached its active state. With a gated
	// instance this does not imply the user startup routine has run.
	Running
	// ShuttingDown means teardown is in progress.
	ShuttingDown
	// Stopped means the instance has been torn down.
	Stopped
)

func (s AppState) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case AwaitingHostReady:
		return "awaiting-host-ready"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting-down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SetupFunc is the user-defined startup routine of an app unit.
type SetupFunc func(*App) error

// AppConfig carries everything needed to construct an App.
type AppConfig struct {
	Host     Host
	Loop     *Loop
	Entities *EntityManager
	Logger   Logger

	// Unit is the logical dotted name of the unit this instance realizes.
	Unit string
	// Name is the unique instance name.
	Name string

	// Config is the instance configuration with routing keys stripped.
	Config map[string]any
	// Defaults come from the unit manifest's options mapping; Config wins
	// on key conflicts.
	Defaults map[string]any

	// Gated opts the instance into automation-switch gated startup.
	Gated bool

	Setup SetupFunc
}

// App is the runtime base every loaded app instance fulfills: lifecycle,
// logging namespace, listener registry, and the capability surface exposed
// to user code. All methods must be called on the loop unless documented
// otherwise.
type App struct {
	host     Host
	loop     *Loop
	entities *EntityManager
	logger   Logger

	unit string
	name string

	config   map[string]any
	defaults map[string]any

	setup SetupFunc
	gated bool
	gate  *Switch

	state       AppState
	setupRan    bool
	listeners   listenerRegistry
	services    []registeredService
	owned       []*entityRef
	debouncers  map[string]*debounceTimer
	readyCancel CancelFunc
}

type registeredService struct {
	domain  string
	service string
}

// NewApp constructs an instance in the Constructed state. Call Begin to
// schedule startup.
func NewApp(cfg AppConfig) (*App, error) {
	if cfg.Host == nil {
		return nil, ErrNilHost
	}
	if cfg.Loop == nil {
		return nil, ErrNilLoop
	}
	if cfg.Setup == nil {
		return nil, ErrNilSetup
	}
	if cfg.Name == "" {
		return nil, ErrEmptyName
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &App{
		host:       cfg.Host,
		loop:       cfg.Loop,
		entities:   cfg.Entities,
		logger:     ScopeLogger(logger, "unit", cfg.Unit, "app", cfg.Name),
		unit:       cfg.Unit,
		name:       cfg.Name,
		config:     cfg.Config,
		defaults:   cfg.Defaults,
		setup:      cfg.Setup,
		gated:      cfg.Gated,
		state:      Constructed,
		debouncers: make(map[string]*debounceTimer),
	}, nil
}

// Name returns the instance name.
func (a *App) Name() string { return a.name }

// Unit returns the logical name of the unit this instance realizes.
func (a *App) Unit() string { return a.unit }

// State returns the current lifecycle state.
func (a *App) State() AppState { return a.state }

// Logger returns the instance-scoped logger.
func (a *App) Logger() Logger { return a.logger }

// Begin moves the instance to AwaitingHostReady and schedules the
// transition to Running: immediately as a deferred job when the host is
// already up, otherwise on the host-ready signal. A gated instance creates
// its automation switch here so the gate exists before startup runs.
func (a *App) Begin() error {
	a.state = AwaitingHostReady

	if a.gated {
		if err := a.createGate(); err != nil {
			return fmt.Errorf("creating gate switch: %w", err)
		}
	}

	if a.host.Running() {
		if err := a.loop.Submit(a.hostReady); err != nil {
			return fmt.Errorf("scheduling startup: %w", err)
		}
		return nil
	}

	a.readyCancel = a.host.OnReady(func() {
		if err := a.loop.Submit(a.hostReady); err != nil {
			a.logger.Error("scheduling startup on host ready", "error", err)
		}
	})
	return nil
}

func (a *App) createGate() error {
	if a.entities == nil {
		return ErrEntityManagerNil
	}
	gate, err := a.Switch("enabled")
	if err != nil {
		return err
	}
	a.gate = gate

	// Restore the previous gate position; default to on so a freshly
	// configured app starts without manual intervention.
	on := true
	if prev, ok := gate.Restored(); ok {
		on = prev.Value == "on"
	}
	gate.Set(on, nil)

	gate.OnTurnOn(func(*Switch) {
		gate.Set(true, nil)
		a.gateChanged(true)
	})
	gate.OnTurnOff(func(*Switch) {
		gate.Set(false, nil)
		a.gateChanged(false)
	})
	return nil
}

func (a *App) gateChanged(on bool) {
	if a.state != Running {
		return
	}
	if on {
		if !a.setupRan {
			a.runStartup()
		}
		return
	}
	if a.setupRan {
		a.logger.Info("gate turned off, draining listeners")
		a.listeners.drain(a.logger)
		a.cancelDebouncers()
		a.setupRan = false
	}
}

// hostReady runs on the loop once the host is up.
func (a *App) hostReady() {
	if a.state != AwaitingHostReady {
		return
	}
	a.state = Running
	a.readyCancel = nil

	if a.gated && !a.gate.On() {
		a.logger.Info("gate is off, startup deferred")
		return
	}
	a.runStartup()
}

func (a *App) runStartup() {
	a.logger.Debug("running startup")
	if err := a.setup(a); err != nil {
		a.logger.Error("startup failed", "error", err)
		return
	}
	a.setupRan = true
}

// Shutdown tears the instance down: every outstanding listener handle is
// cancelled in reverse registration order, registered services are removed
// from the host, and owned entity proxies are released. Safe to call more
// than once; the second call finds the collections already drained.
func (a *App) Shutdown() {
	if a.state == Stopped {
		return
	}
	a.state = ShuttingDown
	a.logger.Debug("shutting down")

	if a.readyCancel != nil {
		a.readyCancel()
		a.readyCancel = nil
	}

	a.listeners.drain(a.logger)
	a.cancelDebouncers()

	for _, svc := range a.services {
		a.host.Services().Unregister(svc.domain, svc.service)
	}
	a.services = nil

	if a.entities != nil {
		for _, ref := range a.owned {
			a.entities.release(ref)
		}
	}
	a.owned = nil
	a.gate = nil

	a.state = Stopped
}

// ListenerCount reports outstanding registered listeners. Mostly useful to
// the supervisor's admin surface and tests.
func (a *App) ListenerCount() int { return a.listeners.len() }

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
