package bolt

import (
	"context"
	"fmt"
	"strings"
)

// Platform identifies an entity platform kind.
type Platform string

const (
	PlatformSwitch       Platform = "switch"
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
)

// EntityPublisher is the host-side sink entity proxies write through. The
// host decides how published states surface (its state store, its entity
// registry); the runtime only pushes values and attributes at it.
type EntityPublisher interface {
	Publish(platform Platform, entityID, value string, attributes map[string]any)
	Remove(platform Platform, entityID string)
}

type entityRef struct {
	key      string
	uniqueID string
	platform Platform
	entityID string
}

// EntityManager creates and memoizes entity proxies per (owning instance,
// platform, logical name) triple. Repeated requests return the same proxy;
// ownership is shared between the instance, which releases the proxy at
// shutdown, and the host registry behind the publisher. All access happens
// on the loop.
type EntityManager struct {
	logger    Logger
	publisher EntityPublisher
	restore   RestoreStore
	loop      *Loop
	entities  map[string]any
}

// NewEntityManager wires the manager to the host. The switch platform's
// turn_on/turn_off services are registered here so gate switches and
// app-created switches are controllable through the service bus. restore
// may be nil when the host offers no restore semantics.
func NewEntityManager(logger Logger, publisher EntityPublisher, restore RestoreStore, services Services, loop *Loop) (*EntityManager, error) {
	em := &EntityManager{
		logger:    logger,
		publisher: publisher,
		restore:   restore,
		loop:      loop,
		entities:  make(map[string]any),
	}

	register := func(service string, turnOn bool) error {
		return services.Register(string(PlatformSwitch), service,
			func(_ context.Context, call ServiceCall) error {
				entityID, _ := call.Data["entity_id"].(string)
				return em.dispatchSwitch(entityID, turnOn)
			},
			&ServiceSchema{
				Description: "switch " + service,
				Fields:      map[string]string{"entity_id": "target switch entity"},
			})
	}
	if err := register("turn_on", true); err != nil {
		return nil, err
	}
	if err := register("turn_off", false); err != nil {
		return nil, err
	}
	return em, nil
}

// dispatchSwitch routes a turn_on/turn_off service call to the owning
// switch proxy's handler on the loop.
func (em *EntityManager) dispatchSwitch(entityID string, turnOn bool) error {
	if entityID == "" {
		return fmt.Errorf("%w: missing entity_id", ErrServiceNotFound)
	}
	return em.loop.Submit(func() {
		for _, e := range em.entities {
			sw, ok := e.(*Switch)
			if !ok || sw.core.ref.entityID != entityID {
				continue
			}
			sw.dispatch(turnOn)
			return
		}
		em.logger.Warn("switch service call for unknown entity", "entity", entityID)
	})
}

// acquire returns the memoized proxy for the triple, creating it on first
// request.
func (em *EntityManager) acquire(owner *App, platform Platform, name string) (any, entityRef) {
	uniqueID := owner.unit + "::" + owner.name + "::" + name
	ref := entityRef{
		key:      string(platform) + "::" + uniqueID,
		uniqueID: uniqueID,
		platform: platform,
		entityID: string(platform) + "." + slug(owner.name+"_"+name),
	}

	if e, ok := em.entities[ref.key]; ok {
		return e, ref
	}

	core := entityCore{em: em, ref: ref, attrs: map[string]any{}}
	core.base = map[string]any{
		"bolted_unit": owner.unit,
		"bolted_app":  owner.name,
	}
	if em.restore != nil {
		if prev, ok := em.restore.Load(uniqueID); ok {
			core.restored = prev
		}
	}

	var e any
	switch platform {
	case PlatformSwitch:
		e = &Switch{core: core}
	case PlatformSensor:
		e = &Sensor{core: core}
	case PlatformBinarySensor:
		e = &BinarySensor{core: core}
	}
	em.entities[ref.key] = e
	em.logger.Debug("entity created", "entity", ref.entityID, "unique_id", uniqueID)
	return e, ref
}

// release removes a proxy from the memo table and the host, saving its last
// state through the restore hook first.
func (em *EntityManager) release(ref *entityRef) {
	e, ok := em.entities[ref.key]
	if !ok {
		return
	}
	if em.restore != nil {
		if last := lastState(e); last != nil {
			last.EntityID = ref.entityID
			em.restore.Save(ref.uniqueID, last)
		}
	}
	delete(em.entities, ref.key)
	em.publisher.Remove(ref.platform, ref.entityID)
	em.logger.Debug("entity released", "entity", ref.entityID)
}

func lastState(e any) *State {
	switch v := e.(type) {
	case *Switch:
		return &State{Value: onOff(v.on), Attributes: v.core.attrs}
	case *BinarySensor:
		return &State{Value: onOff(v.on), Attributes: v.core.attrs}
	case *Sensor:
		return &State{Value: v.value, Attributes: v.core.attrs}
	default:
		return nil
	}
}

// Len reports how many entity proxies are live.
func (em *EntityManager) Len() int { return len(em.entities) }

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// slug normalizes a logical name into an entity id object part.
func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
