package bolted

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const minimalUnit = `package unit

import "github.com/boltedhq/bolted/bolt"

func Setup(app *bolt.App) error { return nil }
`

func TestScanFindsFileUnits(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hello.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "lights", "hall.go"), minimalUnit)

	catalog := NewCatalog(root, noopLogger{})
	units, err := catalog.Scan()
	require.NoError(t, err)

	require.Len(t, units, 2)
	assert.Contains(t, units, "hello")
	assert.Contains(t, units, "lights.hall")
	assert.False(t, units["lights.hall"].IsPackage)
	assert.Equal(t, filepath.Join(root, "lights", "hall.go"), units["lights.hall"].Path)
}

func TestScanFindsPackageUnits(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "heating", "main.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "heating", "zones.go"), "package unit\n")

	catalog := NewCatalog(root, noopLogger{})
	units, err := catalog.Scan()
	require.NoError(t, err)

	require.Len(t, units, 1)
	unit := units["heating"]
	require.NotNil(t, unit)
	assert.True(t, unit.IsPackage)
	assert.Equal(t, filepath.Join(root, "heating"), unit.Path)

	files, err := unit.SourceFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "heating", "main.go"),
		filepath.Join(root, "heating", "zones.go"),
	}, files)
}

func TestScanSkipsDisabledAndPruned(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "active.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "_disabled.go"), minimalUnit)
	writeFile(t, filepath.Join(root, ".hidden.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "_parked", "unit.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "vendor", "dep.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "testdata", "fixture.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "notes.txt"), "not a unit")

	catalog := NewCatalog(root, noopLogger{})
	units, err := catalog.Scan()
	require.NoError(t, err)

	require.Len(t, units, 1)
	assert.Contains(t, units, "active")
}

func TestScanMissingRootIsEmpty(t *testing.T) {
	t.Parallel()
	catalog := NewCatalog(filepath.Join(t.TempDir(), "nope"), noopLogger{})
	units, err := catalog.Scan()
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestScanParsesManifests(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "lights", "hall.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "lights", "manifest.yaml"), `
requirements:
  - astral
options:
  brightness: 80
deps:
  - presence
`)

	catalog := NewCatalog(root, noopLogger{})
	units, err := catalog.Scan()
	require.NoError(t, err)

	unit := units["lights.hall"]
	require.NotNil(t, unit)
	assert.Equal(t, []string{"astral"}, unit.Manifest.Requirements)
	assert.Equal(t, 80, unit.Manifest.Options["brightness"])
	assert.Equal(t, []string{"presence"}, unit.Manifest.Deps)
}

func TestScanMissingManifestYieldsEmpty(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bare.go"), minimalUnit)

	catalog := NewCatalog(root, noopLogger{})
	units, err := catalog.Scan()
	require.NoError(t, err)

	unit := units["bare"]
	require.NotNil(t, unit)
	require.NotNil(t, unit.Manifest)
	assert.Empty(t, unit.Manifest.Requirements)
	assert.Empty(t, unit.Manifest.Options)
}

func TestScanDropsUnitWithMalformedManifest(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "good.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "broken", "unit.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "broken", "manifest.yaml"), "::: not yaml :::")

	catalog := NewCatalog(root, noopLogger{})
	units, err := catalog.Scan()
	require.NoError(t, err)

	require.Len(t, units, 1)
	assert.Contains(t, units, "good")
}

func TestScanRejectsUnknownManifestKeys(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "typo", "unit.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "typo", "manifest.yaml"), "requirments:\n  - astral\n")

	catalog := NewCatalog(root, noopLogger{})
	units, err := catalog.Scan()
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestFingerprintDetectsSourceChange(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	path := filepath.Join(root, "hello.go")
	writeFile(t, path, minimalUnit)

	catalog := NewCatalog(root, noopLogger{})
	before, err := catalog.Scan()
	require.NoError(t, err)

	again, err := catalog.Scan()
	require.NoError(t, err)
	assert.True(t, before["hello"].FingerprintEqual(again["hello"]))

	// Bump the file's modification time.
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	after, err := catalog.Scan()
	require.NoError(t, err)
	assert.False(t, before["hello"].FingerprintEqual(after["hello"]))
}

func TestFingerprintDetectsManifestChange(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	path := filepath.Join(root, "lights", "hall.go")
	writeFile(t, path, minimalUnit)

	catalog := NewCatalog(root, noopLogger{})
	before, err := catalog.Scan()
	require.NoError(t, err)

	// Keep the source mtime stable; only the manifest appears.
	info, err := os.Stat(path)
	require.NoError(t, err)
	writeFile(t, filepath.Join(root, "lights", "manifest.yaml"), "deps:\n  - presence\n")
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	after, err := catalog.Scan()
	require.NoError(t, err)
	assert.False(t, before["lights.hall"].FingerprintEqual(after["lights.hall"]))
}

func TestPackageFingerprintCoversAllSources(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "main.go"), minimalUnit)
	writeFile(t, filepath.Join(root, "pkg", "extra.go"), "package unit\n")

	catalog := NewCatalog(root, noopLogger{})
	before, err := catalog.Scan()
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(root, "pkg", "extra.go"), later, later))

	after, err := catalog.Scan()
	require.NoError(t, err)
	assert.False(t, before["pkg"].FingerprintEqual(after["pkg"]))
}

func TestFingerprintAgainstNil(t *testing.T) {
	t.Parallel()
	u := &Unit{Name: "x", ModTime: time.Now(), Manifest: &Manifest{}}
	assert.False(t, u.FingerprintEqual(nil))
}
