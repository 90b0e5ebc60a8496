package bolted

import (
	"context"
	"fmt"
	"reflect"

	"github.com/boltedhq/bolted/bolt"
)

// ConfigSource yields the declarative list of desired app instances, in
// order. Each entry must carry the routing keys "app" (unit name) and
// "name" (instance name); everything else is instance configuration.
type ConfigSource func() ([]map[string]any, error)

// Instance is a running, named realization of a unit.
type Instance struct {
	// Name is the unique instance name, distinct from the unit name.
	Name string
	// Unit is the owning unit record at the time the instance started.
	Unit *Unit
	// App is the live runtime object.
	App *bolt.App
	// Deps are the unit-level dependency declarations captured at start;
	// manifest deps are read from the unit record on every reload pass.
	Deps []string
	// Config is the full configuration entry, kept for structural diffing.
	Config map[string]any
}

// InstanceInfo is the admin-surface view of a running instance.
type InstanceInfo struct {
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	State     string `json:"state"`
	Listeners int    `json:"listeners"`
}

// ManagerConfig wires a Manager to its collaborators.
type ManagerConfig struct {
	Logger   Logger
	Catalog  *Catalog
	Loader   ProgramLoader
	Host     bolt.Host
	Loop     *bolt.Loop
	Entities *bolt.EntityManager
	// Apps reads the desired instance list.
	Apps ConfigSource
}

// Manager owns the unit catalog snapshot and the map of running instances,
// and implements the reload planner over them. It holds no lock: every
// entry point must run on the loop, which serializes reloads with listener
// callbacks and instance lifecycle work. Use TriggerReload from outside
// the loop.
type Manager struct {
	logger   Logger
	catalog  *Catalog
	loader   ProgramLoader
	host     bolt.Host
	loop     *bolt.Loop
	entities *bolt.EntityManager
	apps     ConfigSource

	units     map[string]*Unit
	instances map[string]*Instance
}

// NewManager creates a manager. No scan happens until the first reload.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Catalog == nil || cfg.Loader == nil || cfg.Host == nil || cfg.Loop == nil || cfg.Apps == nil {
		return nil, fmt.Errorf("%w: manager requires catalog, loader, host, loop and apps source", ErrConfigMissingKeys)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		logger:    logger,
		catalog:   cfg.Catalog,
		loader:    cfg.Loader,
		host:      cfg.Host,
		loop:      cfg.Loop,
		entities:  cfg.Entities,
		apps:      cfg.Apps,
		units:     make(map[string]*Unit),
		instances: make(map[string]*Instance),
	}, nil
}

// TriggerReload runs a reload pass on the loop and waits for it. This is
// the single control-surface operation: idempotent and safe to invoke at
// any time after startup.
func (m *Manager) TriggerReload(ctx context.Context) error {
	var reloadErr error
	if err := m.loop.Do(ctx, func() {
		reloadErr = m.Reload()
	}); err != nil {
		return err
	}
	return reloadErr
}

// Reload rescans the units root, diffs against the previous catalog,
// propagates invalidation through declared dependencies to a fixed point,
// stops every affected instance and then starts the desired set in
// configuration order. Must run on the loop; the loop is what guarantees
// reloads never overlap.
func (m *Manager) Reload() error {
	m.logger.Debug("reload started")

	avail, err := m.catalog.Scan()
	if err != nil {
		m.logger.Error("unit scan failed", "error", err)
		return err
	}

	changed := m.missingChanged(avail)
	changedInstances := m.invalidate(changed)

	// Changed units are replaced wholesale so a stale program handle can
	// never be reused; unchanged units keep their loaded program.
	for name := range changed {
		m.logger.Warn("unit changed", "unit", name)
		delete(m.units, name)
	}
	for name, unit := range avail {
		if _, ok := m.units[name]; !ok {
			m.units[name] = unit
		}
	}

	entries, err := m.apps()
	if err != nil {
		m.logger.Error("reading apps configuration", "error", err)
		return fmt.Errorf("%w: %w", ErrConfigUnreadable, err)
	}

	seen := make(map[string]bool)
	var toStart []map[string]any
	for _, entry := range entries {
		name, _, ok := routingKeys(entry)
		if !ok {
			m.logger.Warn("config entry missing required keys (app, name)", "entry", entry)
			continue
		}
		if seen[name] {
			m.logger.Warn("multiple apps share the same name", "app", name, "error", ErrDuplicateInstance)
			continue
		}
		seen[name] = true

		if changedInstances[name] {
			toStart = append(toStart, entry)
			continue
		}
		inst, running := m.instances[name]
		if !running {
			toStart = append(toStart, entry)
			continue
		}
		if !reflect.DeepEqual(entry, inst.Config) {
			m.logger.Info("app config changed", "app", name)
			changedInstances[name] = true
			toStart = append(toStart, entry)
			continue
		}
	}

	// Anything running without a desired entry goes away.
	for name := range m.instances {
		if !seen[name] {
			changedInstances[name] = true
		}
	}

	// Stop everything affected before starting anything, so a renamed or
	// moved unit never briefly runs two instances side by side.
	for name := range changedInstances {
		m.stopApp(name)
	}
	for _, entry := range toStart {
		m.startApp(entry)
	}

	m.logger.Debug("reload finished",
		"stopped", len(changedInstances), "started", len(toStart), "running", len(m.instances))
	return nil
}

// missingChanged returns the names of previously-known units that are gone
// or have a different fingerprint. New units do not appear here; they need
// no invalidation, only starting.
func (m *Manager) missingChanged(avail map[string]*Unit) map[string]bool {
	changed := make(map[string]bool)
	for name, unit := range m.units {
		next, ok := avail[name]
		if !ok {
			changed[name] = true
			continue
		}
		if !unit.FingerprintEqual(next) {
			changed[name] = true
		}
	}
	return changed
}

// invalidate closes the changed-unit set over instance dependency
// declarations to a fixed point: an instance depending on a changed unit is
// itself affected, and its unit becomes changed so instances depending on
// it cascade too.
func (m *Manager) invalidate(changed map[string]bool) map[string]bool {
	affected := make(map[string]bool)
	for {
		grew := false
		for name, inst := range m.instances {
			if affected[name] {
				continue
			}
			if changed[inst.Unit.Name] {
				affected[name] = true
				grew = true
				continue
			}
			for _, dep := range inst.dependencies() {
				if changed[dep] {
					m.logger.Info("app invalidated through dependency", "app", name, "dep", dep)
					affected[name] = true
					if !changed[inst.Unit.Name] {
						changed[inst.Unit.Name] = true
					}
					grew = true
					break
				}
			}
		}
		if !grew {
			return affected
		}
	}
}

// dependencies merges unit-level and manifest-level dependency names.
func (inst *Instance) dependencies() []string {
	out := make([]string, 0, len(inst.Deps)+len(inst.Unit.Manifest.Deps))
	out = append(out, inst.Deps...)
	out = append(out, inst.Unit.Manifest.Deps...)
	return out
}

// startApp starts one desired instance. Every failure is logged with the
// offending unit and instance names and aborts only this start.
func (m *Manager) startApp(entry map[string]any) {
	name, appName, ok := routingKeys(entry)
	if !ok {
		return
	}

	unit, ok := m.units[appName]
	if !ok {
		m.logger.Error("app is not a valid unit", "unit", appName, "app", name, "error", ErrUnknownUnit)
		return
	}
	if _, exists := m.instances[name]; exists {
		m.logger.Error("attempting to start an already started app", "app", name, "error", ErrInstanceRunning)
		return
	}

	if unit.program == nil {
		prog, err := m.loader.Load(unit)
		if err != nil {
			m.logger.Error("loading unit failed", "unit", appName, "app", name, "error", err)
			return
		}
		unit.program = prog
		m.logger.Info("loaded unit", "unit", appName)
	}
	prog := unit.program

	if len(prog.Reqs) > 0 {
		if err := m.loader.EnsureRequirements(prog.Reqs); err != nil {
			m.logger.Error("unit requirements failed", "unit", appName, "app", name, "error", err)
			return
		}
	}

	config := make(map[string]any, len(entry))
	for k, v := range entry {
		config[k] = v
	}
	delete(config, "app")
	delete(config, "name")

	app, err := bolt.NewApp(bolt.AppConfig{
		Host:     m.host,
		Loop:     m.loop,
		Entities: m.entities,
		Logger:   m.logger,
		Unit:     unit.Name,
		Name:     name,
		Config:   config,
		Defaults: unit.Manifest.Options,
		Gated:    prog.Gated,
		Setup:    prog.Setup,
	})
	if err != nil {
		m.logger.Error("unable to construct app", "unit", appName, "app", name, "error", err)
		return
	}
	if err := app.Begin(); err != nil {
		m.logger.Error("unable to start app", "unit", appName, "app", name, "error", err)
		app.Shutdown()
		return
	}

	m.instances[name] = &Instance{
		Name:   name,
		Unit:   unit,
		App:    app,
		Deps:   prog.Deps,
		Config: entry,
	}
	m.logger.Info("started app", "unit", appName, "app", name)
}

// stopApp stops one instance. Stopping an unknown name is a logged no-op.
func (m *Manager) stopApp(name string) {
	inst, ok := m.instances[name]
	if !ok {
		m.logger.Debug("tried to stop app but it was not loaded", "app", name, "error", ErrInstanceNotRunning)
		return
	}
	delete(m.instances, name)
	m.logger.Info("stopping app", "app", name)
	inst.App.Shutdown()
}

// StopAll stops every running instance. Must run on the loop.
func (m *Manager) StopAll() {
	for name := range m.instances {
		m.stopApp(name)
	}
}

// Shutdown stops all instances from outside the loop.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down, stopping all apps")
	return m.loop.Do(ctx, m.StopAll)
}

// Instances reports the running set for the admin surface.
func (m *Manager) Instances(ctx context.Context) ([]InstanceInfo, error) {
	var out []InstanceInfo
	err := m.loop.Do(ctx, func() {
		for _, inst := range m.instances {
			out = append(out, InstanceInfo{
				Name:      inst.Name,
				Unit:      inst.Unit.Name,
				State:     inst.App.State().String(),
				Listeners: inst.App.ListenerCount(),
			})
		}
	})
	return out, err
}

func routingKeys(entry map[string]any) (name, appName string, ok bool) {
	name, nameOK := entry["name"].(string)
	appName, appOK := entry["app"].(string)
	if !nameOK || !appOK || name == "" || appName == "" {
		return "", "", false
	}
	return name, appName, true
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}
