package bolt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// MemoryHost is a complete in-process Host: a state store, an event bus, a
// service bus, a deliberately small template engine and a restore store.
// It backs the daemon when no external platform is attached and carries the
// whole test suite. The real platform's collaborators can replace it piece
// by piece behind the Host interface.
type MemoryHost struct {
	logger Logger

	mu       sync.RWMutex
	running  bool
	readyCbs map[uuid.UUID]func()

	states    *memoryStates
	templates *memoryTemplates
	bus       *memoryBus
	services  *memoryServices
	restore   *memoryRestore
}

// NewMemoryHost creates a stopped in-process host. Call Start once the
// process is ready so deferred app startups fire.
func NewMemoryHost(logger Logger) *MemoryHost {
	states := newMemoryStates()
	return &MemoryHost{
		logger:    logger,
		readyCbs:  make(map[uuid.UUID]func()),
		states:    states,
		templates: &memoryTemplates{states: states},
		bus:       &memoryBus{logger: logger, subs: make(map[uuid.UUID]*busSub)},
		services:  &memoryServices{handlers: make(map[string]*serviceEntry)},
		restore:   &memoryRestore{saved: make(map[string]*State)},
	}
}

func (h *MemoryHost) States() States       { return h.states }
func (h *MemoryHost) Templates() Templates { return h.templates }
func (h *MemoryHost) Bus() Bus             { return h.bus }
func (h *MemoryHost) Services() Services   { return h.services }

// Restore exposes the host's restore store.
func (h *MemoryHost) Restore() RestoreStore { return h.restore }

// Running reports whether Start has been called.
func (h *MemoryHost) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Start marks the host ready and fires pending one-time ready callbacks.
func (h *MemoryHost) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	cbs := make([]func(), 0, len(h.readyCbs))
	for _, cb := range h.readyCbs {
		cbs = append(cbs, cb)
	}
	h.readyCbs = make(map[uuid.UUID]func())
	h.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// OnReady registers a one-time ready callback.
func (h *MemoryHost) OnReady(fn func()) CancelFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.New()
	h.readyCbs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.readyCbs, id)
	}
}

// Publish implements EntityPublisher against the host state store.
func (h *MemoryHost) Publish(_ Platform, entityID, value string, attributes map[string]any) {
	h.states.Set(entityID, value, attributes)
}

// Remove implements EntityPublisher.
func (h *MemoryHost) Remove(_ Platform, entityID string) {
	h.states.Delete(entityID)
}

// memoryStates is the in-process state store.
type memoryStates struct {
	mu     sync.RWMutex
	states map[string]*State
	subs   map[uuid.UUID]*stateSub
}

type stateSub struct {
	ids map[string]bool // nil means all entities
	fn  func(StateChange)
}

func newMemoryStates() *memoryStates {
	return &memoryStates{
		states: make(map[string]*State),
		subs:   make(map[uuid.UUID]*stateSub),
	}
}

func (s *memoryStates) Get(entityID string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[entityID]
	return st, ok
}

func (s *memoryStates) Set(entityID string, value string, attributes map[string]any) {
	next := &State{
		EntityID:    entityID,
		Value:       value,
		Attributes:  attributes,
		LastUpdated: time.Now(),
	}

	s.mu.Lock()
	old := s.states[entityID]
	s.states[entityID] = next
	targets := s.matching(entityID)
	s.mu.Unlock()

	change := StateChange{EntityID: entityID, Old: old, New: next}
	for _, fn := range targets {
		fn(change)
	}
}

// Delete drops an entity, notifying subscribers with a nil new state.
func (s *memoryStates) Delete(entityID string) {
	s.mu.Lock()
	old, ok := s.states[entityID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.states, entityID)
	targets := s.matching(entityID)
	s.mu.Unlock()

	change := StateChange{EntityID: entityID, Old: old}
	for _, fn := range targets {
		fn(change)
	}
}

// matching collects subscriber callbacks for an entity; callers hold the lock.
func (s *memoryStates) matching(entityID string) []func(StateChange) {
	out := make([]func(StateChange), 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.ids == nil || sub.ids[entityID] {
			out = append(out, sub.fn)
		}
	}
	return out
}

func (s *memoryStates) Subscribe(entityIDs []string, fn func(StateChange)) CancelFunc {
	var ids map[string]bool
	if len(entityIDs) > 0 {
		ids = make(map[string]bool, len(entityIDs))
		for _, id := range entityIDs {
			ids[id] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.subs[id] = &stateSub{ids: ids, fn: fn}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// memoryTemplates is a minimal stand-in for the host's template engine,
// enough to exercise the runtime's template plumbing. It renders two forms:
// a bare entity id yields that entity's value, and "<entity> == '<literal>'"
// yields "true" or "false".
type memoryTemplates struct {
	states *memoryStates
}

func (t *memoryTemplates) Render(expr string) (string, error) {
	if strings.TrimSpace(expr) == "" {
		return "", ErrEmptyTemplate
	}
	entity, literal, compare := splitTemplate(expr)
	st, ok := t.states.Get(entity)
	if !compare {
		if !ok {
			return "", nil
		}
		return st.Value, nil
	}
	if ok && st.Value == literal {
		return "true", nil
	}
	return "false", nil
}

func (t *memoryTemplates) Subscribe(expr string, fn func(result string)) (CancelFunc, error) {
	last, err := t.Render(expr)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	prev := last
	cancel := t.states.Subscribe(nil, func(StateChange) {
		result, err := t.Render(expr)
		if err != nil {
			return
		}
		mu.Lock()
		changed := result != prev
		prev = result
		mu.Unlock()
		if changed {
			fn(result)
		}
	})
	return cancel, nil
}

func splitTemplate(expr string) (entity, literal string, compare bool) {
	parts := strings.SplitN(expr, "==", 2)
	entity = strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		return entity, "", false
	}
	literal = strings.Trim(strings.TrimSpace(parts[1]), "'\"")
	return entity, literal, true
}

// memoryBus is the in-process event bus. Each listener is dispatched
// independently with panic isolation so one failing callback cannot stop
// delivery to the rest.
type memoryBus struct {
	logger Logger
	mu     sync.RWMutex
	subs   map[uuid.UUID]*busSub
}

type busSub struct {
	eventType string // empty means all events
	fn        func(cloudevents.Event)
}

func (b *memoryBus) Fire(_ context.Context, event cloudevents.Event) error {
	b.mu.RLock()
	targets := make([]*busSub, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.eventType == "" || sub.eventType == event.Type() {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, event)
	}
	return nil
}

func (b *memoryBus) deliver(sub *busSub, event cloudevents.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event listener panicked", "type", event.Type(), "panic", rec)
		}
	}()
	sub.fn(event)
}

func (b *memoryBus) Listen(eventType string, fn func(cloudevents.Event)) CancelFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.New()
	b.subs[id] = &busSub{eventType: eventType, fn: fn}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// memoryServices is the in-process service bus.
type memoryServices struct {
	mu       sync.RWMutex
	handlers map[string]*serviceEntry
}

type serviceEntry struct {
	handler ServiceHandler
	schema  *ServiceSchema
}

func serviceKey(domain, service string) string { return domain + "." + service }

func (s *memoryServices) Call(ctx context.Context, domain, service string, data map[string]any) error {
	s.mu.RLock()
	entry, ok := s.handlers[serviceKey(domain, service)]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrServiceNotFound, domain, service)
	}
	return entry.handler(ctx, ServiceCall{Domain: domain, Service: service, Data: data})
}

func (s *memoryServices) Register(domain, service string, handler ServiceHandler, schema *ServiceSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := serviceKey(domain, service)
	if _, exists := s.handlers[key]; exists {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, key)
	}
	s.handlers[key] = &serviceEntry{handler: handler, schema: schema}
	return nil
}

func (s *memoryServices) Unregister(domain, service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, serviceKey(domain, service))
}

// Schema returns the schema a service registered with, if any.
func (s *memoryServices) Schema(domain, service string) (*ServiceSchema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.handlers[serviceKey(domain, service)]
	if !ok {
		return nil, false
	}
	return entry.schema, true
}

// memoryRestore keeps released entity states for the lifetime of the host.
type memoryRestore struct {
	mu    sync.Mutex
	saved map[string]*State
}

func (r *memoryRestore) Save(uniqueID string, s *State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[uniqueID] = s
}

func (r *memoryRestore) Load(uniqueID string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.saved[uniqueID]
	return s, ok
}
