package bolted

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, fired *atomic.Int32) *Watcher {
	t.Helper()
	w := NewWatcher(noopLogger{}, func() { fired.Add(1) }, WithDebounce(50*time.Millisecond))
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func waitForTrigger(t *testing.T, fired *atomic.Int32, want int32) {
	t.Helper()
	require.Eventually(t, func() bool { return fired.Load() >= want },
		3*time.Second, 20*time.Millisecond)
}

func TestWatcherTriggersOnSourceChange(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	var fired atomic.Int32
	w := newTestWatcher(t, &fired)
	require.NoError(t, w.Watch([]string{root}, nil))

	writeFile(t, filepath.Join(root, "unit.go"), minimalUnit)
	waitForTrigger(t, &fired, 1)
}

func TestWatcherTriggersOnManifestChange(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	var fired atomic.Int32
	w := newTestWatcher(t, &fired)
	require.NoError(t, w.Watch([]string{root}, nil))

	writeFile(t, filepath.Join(root, "manifest.yaml"), "deps: []\n")
	waitForTrigger(t, &fired, 1)
}

func TestWatcherTriggersOnConfigFileChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	config := filepath.Join(dir, "bolted.yaml")
	writeFile(t, config, "apps: []\n")

	var fired atomic.Int32
	w := newTestWatcher(t, &fired)
	require.NoError(t, w.Watch(nil, []string{config}))

	writeFile(t, config, "apps:\n  - app: lights\n    name: hall\n")
	waitForTrigger(t, &fired, 1)
}

func TestWatcherIgnoresIrrelevantFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	var fired atomic.Int32
	w := newTestWatcher(t, &fired)
	require.NoError(t, w.Watch([]string{root}, nil))

	writeFile(t, filepath.Join(root, "notes.txt"), "nothing")
	writeFile(t, filepath.Join(root, "_parked.go"), minimalUnit)
	writeFile(t, filepath.Join(root, ".swap.go"), minimalUnit)

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestWatcherDebouncesBursts(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	var fired atomic.Int32
	w := newTestWatcher(t, &fired)
	require.NoError(t, w.Watch([]string{root}, nil))

	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(root, "unit.go"), minimalUnit)
	}
	waitForTrigger(t, &fired, 1)

	// The burst collapses to one trigger; give a stray second one time to
	// show up before asserting it never does.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	var fired atomic.Int32
	w := newTestWatcher(t, &fired)
	require.NoError(t, w.Watch([]string{root}, nil))

	sub := filepath.Join(root, "lights")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Let the create event land and the directory join the watch.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(sub, "hall.go"), minimalUnit)
	waitForTrigger(t, &fired, 1)
}

func TestWatcherMissingRootIsTolerated(t *testing.T) {
	t.Parallel()
	var fired atomic.Int32
	w := newTestWatcher(t, &fired)
	assert.NoError(t, w.Watch([]string{filepath.Join(t.TempDir(), "absent")}, nil))
}

func TestWatcherDoubleWatchRejected(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	var fired atomic.Int32
	w := newTestWatcher(t, &fired)
	require.NoError(t, w.Watch([]string{root}, nil))
	assert.ErrorIs(t, w.Watch([]string{root}, nil), ErrWatcherAlreadyRunning)
}

func TestWatcherRelevance(t *testing.T) {
	t.Parallel()
	w := NewWatcher(noopLogger{}, func() {})
	w.files[filepath.Clean("/etc/bolted.yaml")] = true

	assert.True(t, w.relevant("/apps/lights/hall.go"))
	assert.True(t, w.relevant("/apps/lights/manifest.yaml"))
	assert.True(t, w.relevant("/etc/bolted.yaml"))
	assert.False(t, w.relevant("/apps/lights/notes.txt"))
	assert.False(t, w.relevant("/apps/lights/_hall.go"))
	assert.False(t, w.relevant("/apps/lights/.hall.go.swp"))
}
