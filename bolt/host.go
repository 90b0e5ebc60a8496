// Package bolt is the per-instance runtime for bolted app units. It provides
// the lifecycle base every loaded app fulfills, the listener registry that
// guarantees teardown of everything an app subscribes to, and the narrow
// interfaces through which apps reach the host platform's state store,
// event bus, service bus, template engine and entity platforms.
package bolt

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// CancelFunc releases a subscription. All host subscription primitives
// return one; calling it more than once must be harmless.
type CancelFunc func()

// State is a snapshot of an external object in the host's state store.
type State struct {
	EntityID    string
	Value       string
	Attributes  map[string]any
	LastUpdated time.Time
}

// StateChange describes one state transition. Old is nil for the first
// observation of an entity and for synthetic trigger-now callbacks.
type StateChange struct {
	EntityID string
	Old      *State
	New      *State
}

// States is the host's state-store collaborator.
type States interface {
	// Get returns the current state of an entity, if known.
	Get(entityID string) (*State, bool)

	// Set writes a new state for an entity, notifying subscribers.
	Set(entityID string, value string, attributes map[string]any)

	// Subscribe delivers a StateChange for every transition of the named
	// entities. An empty id list subscribes to all entities.
	Subscribe(entityIDs []string, fn func(StateChange)) CancelFunc
}

// Templates is the host's template-rendering collaborator. The template
// language itself belongs to the host; the runtime only relays expressions
// and result changes.
type Templates interface {
	// Render evaluates an expression against current state.
	Render(expr string) (string, error)

	// Subscribe delivers the rendered result whenever it changes.
	Subscribe(expr string, fn func(result string)) (CancelFunc, error)
}

// Bus is the host's event bus. Events are CloudEvents envelopes.
type Bus interface {
	// Fire publishes an event to all matching listeners.
	Fire(ctx context.Context, event cloudevents.Event) error

	// Listen subscribes to events of the given type. An empty type
	// subscribes to every event.
	Listen(eventType string, fn func(cloudevents.Event)) CancelFunc
}

// ServiceCall is a single invocation of a registered service.
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]any
}

// ServiceHandler handles a service call.
type ServiceHandler func(ctx context.Context, call ServiceCall) error

// ServiceSchema describes a service to the host's command surface.
type ServiceSchema struct {
	Description string
	// Fields maps accepted data keys to human-readable descriptions.
	Fields map[string]string
}

// Services is the host's service bus collaborator.
type Services interface {
	// Call invokes a registered service.
	Call(ctx context.Context, domain, service string, data map[string]any) error

	// Register exposes a new service on the host.
	Register(domain, service string, handler ServiceHandler, schema *ServiceSchema) error

	// Unregister removes a service. Removing an unknown service is a no-op.
	Unregister(domain, service string)
}

// RestoreStore persists the last known state of restorable entities across
// host restarts, keyed by the entity's composite unique id. This is the
// documented restore hook; anything beyond it is out of the runtime's scope.
type RestoreStore interface {
	Save(uniqueID string, s *State)
	Load(uniqueID string) (*State, bool)
}

// Host aggregates the collaborator interfaces an app instance needs.
type Host interface {
	States() States
	Templates() Templates
	Bus() Bus
	Services() Services

	// Running reports whether the host has finished starting up.
	Running() bool

	// OnReady registers a one-time callback fired when the host finishes
	// starting. If the host is already running the callback is not fired;
	// callers are expected to check Running first.
	OnReady(fn func()) CancelFunc
}
