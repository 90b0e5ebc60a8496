// Package bolted is a runtime that discovers, loads and supervises
// independently-authored app units inside a host automation platform. Units
// are Go source files or packages under a configurable root directory, run
// through an embedded interpreter; each running instance gets a managed
// lifecycle, isolated event subscriptions with guaranteed teardown, and
// automatic hot reload when its source, manifest or configuration changes.
//
// The supervisor side lives here: the unit catalog (discovery, manifests,
// fingerprints), the reload planner (diffing, dependency invalidation), the
// instance supervisor (start/stop) and the file watcher. The per-instance
// runtime that app code programs against lives in the bolt subpackage.
//
// Basic usage:
//
//	loop := bolt.NewLoop(logger)
//	loop.Start()
//	host := bolt.NewMemoryHost(logger)
//	mgr, err := bolted.NewManager(bolted.ManagerConfig{...})
//	host.Start()
//	_ = mgr.TriggerReload(ctx)
package bolted

import (
	"github.com/boltedhq/bolted/bolt"
)

// Logger is the structured logging contract shared with the bolt runtime.
type Logger = bolt.Logger
