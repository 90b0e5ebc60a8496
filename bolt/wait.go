package bolt

import (
	"context"
	"time"
)

// WaitResult is the outcome of a wait helper. A timeout resolves with
// TimedOut set rather than an error, and the underlying subscription is
// released no matter how the wait ends.
type WaitResult struct {
	// Done is true when the awaited condition was reached.
	Done bool
	// TimedOut is true when the timeout expired first.
	TimedOut bool
	// State holds the matching state for WaitState; nil otherwise.
	State *State
	// Result holds the matching rendered value for WaitTemplate.
	Result string
}

// WaitState blocks until the entity reaches the target value or the timeout
// expires. It must be called from a background task (see AddJob), never
// from the loop itself.
func (a *App) WaitState(ctx context.Context, entityID, target string, timeout time.Duration) WaitResult {
	if cur, ok := a.host.States().Get(entityID); ok && cur.Value == target {
		return WaitResult{Done: true, State: cur}
	}

	matched := make(chan *State, 1)
	cancel := a.host.States().Subscribe([]string{entityID}, func(change StateChange) {
		if change.New != nil && change.New.Value == target {
			select {
			case matched <- change.New:
			default:
			}
		}
	})
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s := <-matched:
		return WaitResult{Done: true, State: s}
	case <-timer.C:
		return WaitResult{TimedOut: true}
	case <-ctx.Done():
		return WaitResult{}
	}
}

// WaitTemplate blocks until the template renders a truthy result or the
// timeout expires. Calling rules are the same as WaitState.
func (a *App) WaitTemplate(ctx context.Context, expr string, timeout time.Duration) WaitResult {
	if result, err := a.host.Templates().Render(expr); err == nil && truthy(result) {
		return WaitResult{Done: true, Result: result}
	}

	matched := make(chan string, 1)
	cancel, err := a.host.Templates().Subscribe(expr, func(result string) {
		if truthy(result) {
			select {
			case matched <- result:
			default:
			}
		}
	})
	if err != nil {
		a.logger.Error("subscribing to template", "template", expr, "error", err)
		return WaitResult{}
	}
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-matched:
		return WaitResult{Done: true, Result: result}
	case <-timer.C:
		return WaitResult{TimedOut: true}
	case <-ctx.Done():
		return WaitResult{}
	}
}

func truthy(s string) bool {
	switch s {
	case "true", "True", "on", "yes", "1":
		return true
	default:
		return false
	}
}
