package bolt

import (
	"context"
	"encoding/json"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventSource is the CloudEvents source prefix for events fired by apps.
const EventSource = "bolted"

// Event is the bus event envelope. Aliased so interpreted app units can
// name the type without pulling CloudEvents symbols into the interpreter.
type Event = cloudevents.Event

// ListenOption tunes a state or template subscription.
type ListenOption func(*listenSettings)

type listenSettings struct {
	triggerNow bool
}

// TriggerNow fires an immediate synthetic callback with the current state
// (or template result) before any real change, so consumers do not need to
// special-case the first observation.
func TriggerNow() ListenOption {
	return func(s *listenSettings) { s.triggerNow = true }
}

// ListenState subscribes to state changes of one or more entities. The
// callback runs on the loop.
func (a *App) ListenState(entityIDs []string, fn func(StateChange), opts ...ListenOption) *Handle {
	var settings listenSettings
	for _, opt := range opts {
		opt(&settings)
	}

	cancel := a.host.States().Subscribe(entityIDs, func(change StateChange) {
		if err := a.loop.Submit(func() { fn(change) }); err != nil {
			a.logger.Error("dispatching state change", "entity", change.EntityID, "error", err)
		}
	})
	handle := a.listeners.track(a, "state", func() { cancel() })

	if settings.triggerNow {
		for _, id := range entityIDs {
			id := id
			if err := a.loop.Submit(func() {
				cur, _ := a.host.States().Get(id)
				fn(StateChange{EntityID: id, New: cur})
			}); err != nil {
				a.logger.Error("dispatching synthetic state change", "entity", id, "error", err)
			}
		}
	}
	return handle
}

// ListenTemplate subscribes to changes of a template expression's rendered
// result. The callback runs on the loop.
func (a *App) ListenTemplate(expr string, fn func(result string), opts ...ListenOption) (*Handle, error) {
	if expr == "" {
		return nil, ErrEmptyTemplate
	}
	var settings listenSettings
	for _, opt := range opts {
		opt(&settings)
	}

	cancel, err := a.host.Templates().Subscribe(expr, func(result string) {
		if err := a.loop.Submit(func() { fn(result) }); err != nil {
			a.logger.Error("dispatching template result", "template", expr, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	handle := a.listeners.track(a, "template", func() { cancel() })

	if settings.triggerNow {
		if err := a.loop.Submit(func() {
			result, err := a.host.Templates().Render(expr)
			if err != nil {
				a.logger.Error("rendering template", "template", expr, "error", err)
				return
			}
			fn(result)
		}); err != nil {
			a.logger.Error("dispatching synthetic template result", "template", expr, "error", err)
		}
	}
	return handle, nil
}

// ListenEvent subscribes to host events of the given type, optionally
// filtered by a recursive partial match against the event payload. A nil
// filter matches every event. The callback runs on the loop.
func (a *App) ListenEvent(eventType string, filter map[string]any, fn func(cloudevents.Event)) *Handle {
	cancel := a.host.Bus().Listen(eventType, func(ev cloudevents.Event) {
		if filter != nil && !MatchesFilter(filter, eventPayload(ev)) {
			return
		}
		if err := a.loop.Submit(func() { fn(ev) }); err != nil {
			a.logger.Error("dispatching event", "type", ev.Type(), "error", err)
		}
	})
	return a.listeners.track(a, "event", func() { cancel() })
}

// eventPayload decodes an event's data into a generic map. Non-JSON or
// empty payloads yield an empty map, which only an empty filter matches.
func eventPayload(ev cloudevents.Event) map[string]any {
	payload := map[string]any{}
	if len(ev.Data()) > 0 {
		if err := json.Unmarshal(ev.Data(), &payload); err != nil {
			return map[string]any{}
		}
	}
	return payload
}

// Fire publishes a custom event on the host bus, fire-and-forget.
func (a *App) Fire(eventType string, data map[string]any) {
	ev := cloudevents.NewEvent()
	ev.SetID(uuid.NewString())
	ev.SetSource(EventSource + "/" + a.unit + "/" + a.name)
	ev.SetType(eventType)
	ev.SetTime(time.Now())
	if data != nil {
		if err := ev.SetData(cloudevents.ApplicationJSON, data); err != nil {
			a.logger.Error("encoding event data", "type", eventType, "error", err)
			return
		}
	}
	if err := a.host.Bus().Fire(context.Background(), ev); err != nil {
		a.logger.Error("firing event", "type", eventType, "error", err)
	}
}

// CallService invokes a host service fire-and-forget; failures are logged,
// never returned.
func (a *App) CallService(domain, service string, data map[string]any) {
	if err := a.loop.Submit(func() {
		if err := a.host.Services().Call(context.Background(), domain, service, data); err != nil {
			a.logger.Error("service call failed", "domain", domain, "service", service, "error", err)
		}
	}); err != nil {
		a.logger.Error("scheduling service call", "domain", domain, "service", service, "error", err)
	}
}

// RegisterService exposes a service on the host under this instance's name
// as the domain. When schema is nil a minimal one is derived from the
// service identity. The registration is undone at shutdown.
func (a *App) RegisterService(service string, handler ServiceHandler, schema *ServiceSchema) error {
	if handler == nil {
		return ErrNilCallback
	}
	if schema == nil {
		schema = &ServiceSchema{Description: "service " + a.name + "." + service}
	}
	if err := a.host.Services().Register(a.name, service, handler, schema); err != nil {
		return err
	}
	a.services = append(a.services, registeredService{domain: a.name, service: service})
	return nil
}

// AddJob spawns a background task owned by this instance. The returned
// handle aborts the task via context cancellation; when the task finishes
// on its own the canceller self-removes from the registry.
func (a *App) AddJob(fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	handle := a.listeners.track(a, "task", cancel)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("background task panicked", "panic", rec)
			}
			cancel()
			// Loop may already be gone during process shutdown; drain
			// handles stale entries in that case.
			_ = a.loop.Submit(func() { a.listeners.remove(handle.id) })
		}()
		fn(ctx)
	}()
	return handle
}
