package bolt

import (
	"github.com/google/uuid"
)

// Handle is the cancellation capability returned by every subscription
// operation. The owning app's listener registry keeps its own reference and
// cancels during shutdown; callers may also cancel an individual handle
// early. Cancelling twice is harmless.
type Handle struct {
	app  *App
	id   uuid.UUID
	kind string
}

// ID returns the unique identifier of this handle.
func (h *Handle) ID() string { return h.id.String() }

// Kind describes the subscription this handle controls (state, template,
// event, timer, task).
func (h *Handle) Kind() string { return h.kind }

// Cancel releases the underlying subscription and removes it from the
// owning app's registry.
func (h *Handle) Cancel() {
	if h == nil || h.app == nil {
		return
	}
	h.app.listeners.cancel(h.id, h.app.logger)
}

type listenerEntry struct {
	id     uuid.UUID
	kind   string
	cancel func()
}

// listenerRegistry tracks every cancellable subscription an app instance
// accrues. Teardown pops entries in reverse registration order; entries
// whose cancel function panics are logged and skipped so one bad listener
// never blocks the rest of the drain. All access happens on the loop.
type listenerRegistry struct {
	entries []listenerEntry
}

func (r *listenerRegistry) track(app *App, kind string, cancel func()) *Handle {
	id := uuid.New()
	r.entries = append(r.entries, listenerEntry{id: id, kind: kind, cancel: cancel})
	return &Handle{app: app, id: id, kind: kind}
}

// cancel releases a single entry by id. Unknown ids are ignored, which makes
// double-cancel a no-op.
func (r *listenerRegistry) cancel(id uuid.UUID, logger Logger) {
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			safeCancel(e, logger)
			return
		}
	}
}

// remove drops an entry without invoking its cancel function. Completed
// background tasks use this to self-remove so finished-task cancellers do
// not pile up.
func (r *listenerRegistry) remove(id uuid.UUID) {
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// drain cancels every entry, last registered first.
func (r *listenerRegistry) drain(logger Logger) {
	for len(r.entries) > 0 {
		e := r.entries[len(r.entries)-1]
		r.entries = r.entries[:len(r.entries)-1]
		logger.Debug("cancelling listener", "kind", e.kind, "id", e.id)
		safeCancel(e, logger)
	}
}

func (r *listenerRegistry) len() int { return len(r.entries) }

func safeCancel(e listenerEntry, logger Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("listener cancel panicked", "kind", e.kind, "id", e.id, "panic", rec)
		}
	}()
	e.cancel()
}
