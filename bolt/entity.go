package bolt

// entityCore is the shared part of every entity proxy.
type entityCore struct {
	em       *EntityManager
	ref      entityRef
	base     map[string]any // owning unit/app identity, always published
	attrs    map[string]any
	restored *State
}

func (c *entityCore) publish(value string) {
	merged := make(map[string]any, len(c.attrs)+len(c.base))
	for k, v := range c.attrs {
		merged[k] = v
	}
	for k, v := range c.base {
		merged[k] = v
	}
	c.em.publisher.Publish(c.ref.platform, c.ref.entityID, value, merged)
}

// Restored returns the state saved for this entity's unique id before the
// last release, if the host keeps one.
func (c *entityCore) Restored() (*State, bool) {
	if c.restored == nil {
		return nil, false
	}
	return c.restored, true
}

// EntityID returns the external id this proxy publishes under.
func (c *entityCore) EntityID() string { return c.ref.entityID }

// Switch is an on/off entity proxy. Service calls to switch.turn_on and
// switch.turn_off route to the handlers installed with OnTurnOn/OnTurnOff;
// without handlers a call is a logged no-op, the proxy state only changes
// through Set.
type Switch struct {
	core    entityCore
	on      bool
	turnOn  func(*Switch)
	turnOff func(*Switch)
}

// Restored exposes the restore hook for this switch.
func (s *Switch) Restored() (*State, bool) { return s.core.Restored() }

// EntityID returns the external id of this switch.
func (s *Switch) EntityID() string { return s.core.EntityID() }

// On reports the current switch position.
func (s *Switch) On() bool { return s.on }

// Set updates the switch position and optionally replaces its attributes.
func (s *Switch) Set(on bool, attributes map[string]any) {
	s.on = on
	if attributes != nil {
		s.core.attrs = attributes
	}
	s.core.publish(onOff(on))
}

// SetAttribute updates a single attribute.
func (s *Switch) SetAttribute(key string, value any) {
	s.core.attrs[key] = value
	s.core.publish(onOff(s.on))
}

// OnTurnOn installs the handler invoked for switch.turn_on service calls.
func (s *Switch) OnTurnOn(fn func(*Switch)) { s.turnOn = fn }

// OnTurnOff installs the handler invoked for switch.turn_off service calls.
func (s *Switch) OnTurnOff(fn func(*Switch)) { s.turnOff = fn }

func (s *Switch) dispatch(turnOn bool) {
	fn := s.turnOff
	if turnOn {
		fn = s.turnOn
	}
	if fn == nil {
		s.core.em.logger.Debug("switch has no handler", "entity", s.core.ref.entityID, "turn_on", turnOn)
		return
	}
	fn(s)
}

// Sensor is a value-bearing entity proxy.
type Sensor struct {
	core  entityCore
	value string
}

// Restored exposes the restore hook for this sensor.
func (s *Sensor) Restored() (*State, bool) { return s.core.Restored() }

// EntityID returns the external id of this sensor.
func (s *Sensor) EntityID() string { return s.core.EntityID() }

// Set updates the sensor value and optionally replaces its attributes.
func (s *Sensor) Set(value string, attributes map[string]any) {
	s.value = value
	if attributes != nil {
		s.core.attrs = attributes
	}
	s.core.publish(value)
}

// SetAttribute updates a single attribute.
func (s *Sensor) SetAttribute(key string, value any) {
	s.core.attrs[key] = value
	s.core.publish(s.value)
}

// SetUnit records the unit of measurement as an attribute.
func (s *Sensor) SetUnit(unit string) { s.SetAttribute("unit_of_measurement", unit) }

// SetDeviceClass records the device class as an attribute.
func (s *Sensor) SetDeviceClass(class string) { s.SetAttribute("device_class", class) }

// BinarySensor is a boolean entity proxy.
type BinarySensor struct {
	core entityCore
	on   bool
}

// Restored exposes the restore hook for this binary sensor.
func (s *BinarySensor) Restored() (*State, bool) { return s.core.Restored() }

// EntityID returns the external id of this binary sensor.
func (s *BinarySensor) EntityID() string { return s.core.EntityID() }

// Set updates the binary sensor and optionally replaces its attributes.
func (s *BinarySensor) Set(on bool, attributes map[string]any) {
	s.on = on
	if attributes != nil {
		s.core.attrs = attributes
	}
	s.core.publish(onOff(on))
}

// SetAttribute updates a single attribute.
func (s *BinarySensor) SetAttribute(key string, value any) {
	s.core.attrs[key] = value
	s.core.publish(onOff(s.on))
}

// SetDeviceClass records the device class as an attribute.
func (s *BinarySensor) SetDeviceClass(class string) { s.SetAttribute("device_class", class) }

// Switch returns the memoized switch proxy for the logical name, creating
// it on first use and registering it for release at shutdown.
func (a *App) Switch(name string) (*Switch, error) {
	e, ref, err := a.entity(PlatformSwitch, name)
	if err != nil {
		return nil, err
	}
	return e.(*Switch), checkOwned(a, ref)
}

// Sensor returns the memoized sensor proxy for the logical name.
func (a *App) Sensor(name string) (*Sensor, error) {
	e, ref, err := a.entity(PlatformSensor, name)
	if err != nil {
		return nil, err
	}
	return e.(*Sensor), checkOwned(a, ref)
}

// BinarySensor returns the memoized binary sensor proxy for the logical name.
func (a *App) BinarySensor(name string) (*BinarySensor, error) {
	e, ref, err := a.entity(PlatformBinarySensor, name)
	if err != nil {
		return nil, err
	}
	return e.(*BinarySensor), checkOwned(a, ref)
}

func (a *App) entity(platform Platform, name string) (any, entityRef, error) {
	if a.entities == nil {
		return nil, entityRef{}, ErrEntityManagerNil
	}
	e, ref := a.entities.acquire(a, platform, name)
	return e, ref, nil
}

// checkOwned records the ref for shutdown release, once per triple.
func checkOwned(a *App, ref entityRef) error {
	for _, owned := range a.owned {
		if owned.key == ref.key {
			return nil
		}
	}
	a.owned = append(a.owned, &ref)
	return nil
}
