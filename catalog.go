package bolted

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EntryFile marks a directory as a single package-style unit.
	EntryFile = "main.go"
	// ManifestFile is the per-directory manifest name.
	ManifestFile = "manifest.yaml"
	// disabledMarker prefixes files and directories the catalog ignores,
	// matching the Go toolchain's own underscore convention.
	disabledMarker = "_"
)

// prunedDirs are known artifact directories never scanned for units.
var prunedDirs = map[string]bool{
	"vendor":   true,
	"testdata": true,
}

// Manifest is the optional per-unit declarative metadata. Unknown keys are
// rejected during decode so typos surface immediately.
type Manifest struct {
	// Requirements name symbol libraries the loader must provide before
	// the unit's source is evaluated.
	Requirements []string `yaml:"requirements"`
	// Options is a free-form mapping merged into instance configuration
	// as defaults.
	Options map[string]any `yaml:"options"`
	// Deps lists logical names of other units this unit depends on,
	// beyond anything the unit itself declares.
	Deps []string `yaml:"deps"`
}

// Unit is a loadable source artifact. Identity is the logical dotted name;
// records are replaced, never mutated, when a fingerprint changes.
type Unit struct {
	// Name is the logical dotted name derived from the path relative to
	// the scan root.
	Name string
	// Path is the source file, or the directory for a package unit.
	Path string
	// IsPackage is true for directory units with an entry file.
	IsPackage bool
	// ModTime is the latest modification time across the unit's sources.
	ModTime time.Time
	// Manifest is the parsed manifest; empty when no manifest file exists.
	Manifest *Manifest

	// program is the loaded executable handle, nil until first started.
	program *Program
}

// FingerprintEqual reports whether two unit records are equivalent for
// change detection: modification time and parsed manifest must both match.
func (u *Unit) FingerprintEqual(other *Unit) bool {
	if other == nil {
		return false
	}
	return u.ModTime.Equal(other.ModTime) && reflect.DeepEqual(u.Manifest, other.Manifest)
}

// Catalog discovers loadable units under a root directory.
type Catalog struct {
	root   string
	logger Logger

	// manifestCache deduplicates manifest reads within one scan; units in
	// the same directory share a manifest file.
	manifestCache map[string]*Manifest
}

// NewCatalog creates a catalog over the given root directory.
func NewCatalog(root string, logger Logger) *Catalog {
	return &Catalog{root: root, logger: logger}
}

// Root returns the scan root.
func (c *Catalog) Root() string { return c.root }

// Scan walks the root directory and returns every loadable unit keyed by
// logical name. A directory containing the entry file is one unit and is
// not descended into; otherwise each source file is its own unit. Units
// whose manifest fails to parse are dropped from the result with an error
// log; the rest of the scan proceeds.
func (c *Catalog) Scan() (map[string]*Unit, error) {
	if _, err := os.Stat(c.root); err != nil {
		if os.IsNotExist(err) {
			// A missing root is an empty catalog, not a failed reload. The
			// watcher picks the directory up when it appears.
			c.logger.Warn("units root does not exist", "root", c.root)
			return map[string]*Unit{}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, c.root)
	}

	c.manifestCache = make(map[string]*Manifest)
	units := make(map[string]*Unit)
	c.scanDir(c.root, "", units)
	return units, nil
}

func (c *Catalog) scanDir(dir, rel string, units map[string]*Unit) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		c.logger.Error("reading unit directory", "dir", dir, "error", err)
		return
	}

	if rel != "" && containsEntry(entries) {
		if unit := c.packageUnit(dir, rel, entries); unit != nil {
			units[unit.Name] = unit
		}
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, disabledMarker) || strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			if prunedDirs[name] {
				continue
			}
			c.scanDir(filepath.Join(dir, name), joinRel(rel, name), units)
			continue
		}
		if !strings.HasSuffix(name, ".go") {
			continue
		}
		if unit := c.fileUnit(dir, rel, entry); unit != nil {
			units[unit.Name] = unit
		}
	}
}

func (c *Catalog) fileUnit(dir, rel string, entry fs.DirEntry) *Unit {
	info, err := entry.Info()
	if err != nil {
		c.logger.Error("stat unit file", "file", entry.Name(), "error", err)
		return nil
	}

	name := dotted(joinRel(rel, strings.TrimSuffix(entry.Name(), ".go")))
	manifest, err := c.manifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		c.logger.Error("unit dropped: manifest error", "unit", name, "error", err)
		return nil
	}

	unit := &Unit{
		Name:     name,
		Path:     filepath.Join(dir, entry.Name()),
		ModTime:  info.ModTime(),
		Manifest: manifest,
	}
	c.logger.Debug("found unit", "unit", unit.Name, "path", unit.Path)
	return unit
}

func (c *Catalog) packageUnit(dir, rel string, entries []fs.DirEntry) *Unit {
	name := dotted(rel)
	manifest, err := c.manifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		c.logger.Error("unit dropped: manifest error", "unit", name, "error", err)
		return nil
	}

	// A package unit's fingerprint covers all of its sources, so editing
	// any file in the package invalidates it.
	var latest time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") {
			continue
		}
		if strings.HasPrefix(entry.Name(), disabledMarker) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			c.logger.Error("stat unit file", "file", entry.Name(), "error", err)
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}

	unit := &Unit{
		Name:      name,
		Path:      dir,
		IsPackage: true,
		ModTime:   latest,
		Manifest:  manifest,
	}
	c.logger.Debug("found package unit", "unit", unit.Name, "path", unit.Path)
	return unit
}

// manifest loads and caches a manifest file. A missing file yields an empty
// manifest; malformed content is an error.
func (c *Catalog) manifest(path string) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if m, ok := c.manifestCache[abs]; ok {
		return m, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		m := &Manifest{}
		c.manifestCache[abs] = m
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestInvalid, path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestInvalid, path, err)
	}
	c.manifestCache[abs] = &m
	return &m, nil
}

// SourceFiles returns the source files of a unit in evaluation order.
func (u *Unit) SourceFiles() ([]string, error) {
	if !u.IsPackage {
		return []string{u.Path}, nil
	}
	entries, err := os.ReadDir(u.Path)
	if err != nil {
		return nil, fmt.Errorf("reading package unit %s: %w", u.Name, err)
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") {
			continue
		}
		if strings.HasPrefix(name, disabledMarker) || strings.HasPrefix(name, ".") {
			continue
		}
		files = append(files, filepath.Join(u.Path, name))
	}
	sort.Strings(files)
	return files, nil
}

func containsEntry(entries []fs.DirEntry) bool {
	for _, entry := range entries {
		if !entry.IsDir() && entry.Name() == EntryFile {
			return true
		}
	}
	return false
}

func joinRel(rel, name string) string {
	if rel == "" {
		return name
	}
	return rel + "/" + name
}

func dotted(rel string) string {
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}
