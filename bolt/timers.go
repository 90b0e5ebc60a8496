package bolt

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// RunIn schedules a one-shot callback after the given delay. The callback
// runs on the loop; its registry entry self-removes when it fires.
func (a *App) RunIn(delay time.Duration, fn func()) *Handle {
	if delay < 0 {
		delay = 0
	}
	var handle *Handle
	timer := time.AfterFunc(delay, func() {
		if err := a.loop.Submit(func() {
			a.listeners.remove(handle.id)
			fn()
		}); err != nil {
			a.logger.Error("dispatching timer", "error", err)
		}
	})
	handle = a.listeners.track(a, "timer", func() { timer.Stop() })
	return handle
}

// RunAt schedules a one-shot callback at an absolute time. Times in the
// past fire immediately.
func (a *App) RunAt(at time.Time, fn func()) *Handle {
	return a.RunIn(time.Until(at), fn)
}

// RunAtTime schedules a one-shot callback at the next occurrence of a
// wall-clock time given as "15:04" or "15:04:05". A time already passed
// today rolls to the same time tomorrow.
func (a *App) RunAtTime(clock string, fn func()) (*Handle, error) {
	next, err := nextClockTime(time.Now(), clock)
	if err != nil {
		return nil, err
	}
	return a.RunAt(next, fn), nil
}

// RunEvery schedules a recurring callback from a cron expression (standard
// five-field spec, or descriptors such as "@hourly"). The handle cancels
// all future occurrences.
func (a *App) RunEvery(spec string, fn func()) (*Handle, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing cron spec %q: %w", spec, err)
	}

	// timer and cancelled are loop-confined: the initial arm runs on the
	// loop, every re-arm happens inside a submitted job, and the cancel
	// thunk runs on the loop during Cancel or registry drain. A tick that
	// loses the race with Cancel is discarded by the cancelled check
	// before its callback runs.
	var timer *time.Timer
	cancelled := false
	var arm func()
	arm = func() {
		wait := time.Until(sched.Next(time.Now()))
		timer = time.AfterFunc(wait, func() {
			if err := a.loop.Submit(func() {
				if cancelled {
					return
				}
				arm()
				fn()
			}); err != nil {
				a.logger.Error("dispatching recurring timer", "spec", spec, "error", err)
			}
		})
	}
	arm()

	return a.listeners.track(a, "timer", func() {
		cancelled = true
		timer.Stop()
	}), nil
}

// nextClockTime resolves a wall-clock string against now.
func nextClockTime(now time.Time, clock string) (time.Time, error) {
	var parsed time.Time
	var err error
	switch len(clock) {
	case len("15:04"):
		parsed, err = time.Parse("15:04", clock)
	default:
		parsed, err = time.Parse("15:04:05", clock)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing clock time %q: %w", clock, err)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

// debounceTimer is one pending trailing-edge invocation. Debounce timers
// live outside the generic listener registry: they must be replaceable
// (cancel-and-reschedule) on every call without instance shutdown
// semantics getting involved.
type debounceTimer struct {
	timer *time.Timer
}

// Debounce collapses repeated calls under the same key within the window
// into a single trailing invocation scheduled at last-call time plus the
// window. The function from the most recent call is the one invoked, so
// closure-captured arguments are always the last call's.
func (a *App) Debounce(key string, window time.Duration, fn func()) {
	if pending, ok := a.debouncers[key]; ok {
		pending.timer.Stop()
	}

	d := &debounceTimer{}
	d.timer = time.AfterFunc(window, func() {
		if err := a.loop.Submit(func() {
			if a.debouncers[key] == d {
				delete(a.debouncers, key)
			}
			fn()
		}); err != nil {
			a.logger.Error("dispatching debounced call", "key", key, "error", err)
		}
	})
	a.debouncers[key] = d
}

// cancelDebouncers stops every pending debounce timer so none outlives the
// listeners it would have called into.
func (a *App) cancelDebouncers() {
	for key, d := range a.debouncers {
		d.timer.Stop()
		delete(a.debouncers, key)
	}
}
