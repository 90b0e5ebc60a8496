package bolted

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/boltedhq/bolted/bolt"
)

// Program is a unit's loaded executable handle: the resolved entry point
// plus the declarations the unit carries at source level.
type Program struct {
	// Setup is the unit's user-defined startup routine.
	Setup bolt.SetupFunc
	// Deps are unit-level dependency declarations (package var Deps).
	Deps []string
	// Reqs are unit-level requirement declarations (package var Reqs).
	// They must be a literal string slice: the loader reads them from the
	// source text so the symbols can be installed before evaluation, which
	// is what lets the unit import what it declares.
	Reqs []string
	// Gated is true when the unit opts into automation-switch gated
	// startup (package var Gated).
	Gated bool
}

// ProgramLoader resolves a unit's source into a Program. The supervisor
// depends on this interface so tests can substitute an in-memory loader.
type ProgramLoader interface {
	Load(u *Unit) (*Program, error)
	// EnsureRequirements verifies that every named requirement is
	// registered, mirroring external requirement installation: a failure
	// aborts only the start that needed it.
	EnsureRequirements(names []string) error
}

// Loader runs unit source through a yaegi interpreter. Each load gets a
// fresh interpreter, which is what makes hot reload of a changed unit a
// clean slate rather than a patched namespace.
//
// Requirements are named symbol libraries (interp.Exports) registered with
// the loader; declaring one in a manifest makes its packages importable by
// the unit's source, and an unregistered name fails the unit's start.
type Loader struct {
	logger       Logger
	gopath       string
	requirements map[string]interp.Exports
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithGoPath lets unit sources import each other through a GOPATH-style
// source tree rooted at dir.
func WithGoPath(dir string) LoaderOption {
	return func(l *Loader) { l.gopath = dir }
}

// NewLoader creates a loader with the standard library and the bolt API
// available to every unit.
func NewLoader(logger Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		logger:       logger,
		requirements: make(map[string]interp.Exports),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterRequirement makes a named symbol library available to units that
// declare it.
func (l *Loader) RegisterRequirement(name string, symbols interp.Exports) {
	l.requirements[name] = symbols
}

// EnsureRequirements implements ProgramLoader.
func (l *Loader) EnsureRequirements(names []string) error {
	for _, name := range names {
		if _, ok := l.requirements[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRequirement, name)
		}
	}
	return nil
}

// Load evaluates a unit's source and resolves its entry point.
func (l *Loader) Load(u *Unit) (*Program, error) {
	i := interp.New(interp.Options{GoPath: l.gopath})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols: %w", err)
	}
	if err := i.Use(bolt.Symbols); err != nil {
		return nil, fmt.Errorf("loading bolt symbols: %w", err)
	}
	files, err := u.SourceFiles()
	if err != nil {
		return nil, err
	}
	pkg, err := packageName(files[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnitEvalFailed, u.Name, err)
	}
	reqs, err := declaredReqs(files)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnitEvalFailed, u.Name, err)
	}
	install := make([]string, 0, len(u.Manifest.Requirements)+len(reqs))
	install = append(install, u.Manifest.Requirements...)
	install = append(install, reqs...)
	for _, req := range install {
		symbols, ok := l.requirements[req]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRequirement, req)
		}
		if err := i.Use(symbols); err != nil {
			return nil, fmt.Errorf("loading requirement %s: %w", req, err)
		}
		l.logger.Debug("requirement installed", "unit", u.Name, "requirement", req)
	}
	for _, file := range files {
		if _, err := i.EvalPath(file); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnitEvalFailed, u.Name, err)
		}
	}

	setupVal, err := i.Eval(pkg + ".Setup")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntryPoint, u.Name)
	}
	setup, ok := setupVal.Interface().(func(*bolt.App) error)
	if !ok {
		return nil, fmt.Errorf("%w: %s: got %T", ErrBadEntryPoint, u.Name, setupVal.Interface())
	}

	prog := &Program{Setup: setup, Reqs: reqs}
	prog.Deps = stringsVar(i, pkg, "Deps")
	if v, err := i.Eval(pkg + ".Gated"); err == nil {
		gated, _ := v.Interface().(bool)
		prog.Gated = gated
	}

	l.logger.Info("unit loaded", "unit", u.Name, "package", pkg, "gated", prog.Gated)
	return prog, nil
}

// stringsVar reads an optional package-level []string var; absent or
// mistyped declarations yield nil.
func stringsVar(i *interp.Interpreter, pkg, name string) []string {
	v, err := i.Eval(pkg + "." + name)
	if err != nil {
		return nil
	}
	out, _ := v.Interface().([]string)
	return out
}

// declaredReqs scans source for package-level `var Reqs = []string{...}`
// declarations. Only literal elements count; requirements gate which
// symbol libraries are installed before evaluation, so they cannot be
// computed by the code they unlock.
func declaredReqs(files []string) ([]string, error) {
	var reqs []string
	fset := token.NewFileSet()
	for _, file := range files {
		parsed, err := parser.ParseFile(fset, file, nil, 0)
		if err != nil {
			return nil, err
		}
		for _, decl := range parsed.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.VAR {
				continue
			}
			for _, spec := range gen.Specs {
				vs, ok := spec.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for idx, name := range vs.Names {
					if name.Name != "Reqs" || idx >= len(vs.Values) {
						continue
					}
					lit, ok := vs.Values[idx].(*ast.CompositeLit)
					if !ok {
						continue
					}
					for _, elt := range lit.Elts {
						basic, ok := elt.(*ast.BasicLit)
						if !ok || basic.Kind != token.STRING {
							continue
						}
						if s, err := strconv.Unquote(basic.Value); err == nil {
							reqs = append(reqs, s)
						}
					}
				}
			}
		}
	}
	return reqs, nil
}

// packageName reads the package clause of a source file.
func packageName(file string) (string, error) {
	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, nil, parser.PackageClauseOnly)
	if err != nil {
		return "", err
	}
	return parsed.Name.Name, nil
}
