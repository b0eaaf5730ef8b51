package launch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned when a launch name is not in the catalog.
var ErrNotFound = errors.New("launch not found")

// Catalog provides thread-safe access to the loaded launch definitions.
// The whole set is swapped atomically on reload.
type Catalog struct {
	launches atomic.Pointer[catalogSet]
	logger   *slog.Logger
}

type catalogSet struct {
	byName    map[string]*Definition
	updatedAt time.Time
}

// NewCatalog creates an empty Catalog.
func NewCatalog(logger *slog.Logger) *Catalog {
	c := &Catalog{logger: logger}
	c.launches.Store(&catalogSet{byName: map[string]*Definition{}})
	return c
}

// Load reads every *.json, *.yaml and *.yml file at the root of each layer
// and replaces the catalog contents. A definition in a later layer replaces
// one of the same name from an earlier layer. Files that fail to parse are
// skipped with a warning; Load returns an error only if a layer cannot be
// listed.
func (c *Catalog) Load(layers ...fs.FS) (int, error) {
	byName := make(map[string]*Definition)
	for _, fsys := range layers {
		defs, err := c.loadLayer(fsys)
		if err != nil {
			return 0, err
		}
		for name, def := range defs {
			byName[name] = def
		}
	}

	c.launches.Store(&catalogSet{byName: byName, updatedAt: time.Now()})
	c.logger.Info("launch catalog loaded", "count", len(byName), "layers", len(layers))
	return len(byName), nil
}

func (c *Catalog) loadLayer(fsys fs.FS) (map[string]*Definition, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("listing launch files: %w", err)
	}

	byName := make(map[string]*Definition, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if _, ok := formatFor(name); !ok {
			continue
		}

		def, err := ParseFile(fsys, name)
		if err != nil {
			c.logger.Warn("skipping launch file", "file", name, "error", err)
			continue
		}
		if _, dup := byName[def.Name]; dup {
			c.logger.Warn("duplicate launch name, keeping first", "launch", def.Name, "file", name)
			continue
		}
		byName[def.Name] = def
	}
	return byName, nil
}

// ParseFile reads one launch file, choosing the format from its extension.
// A definition without a name is named after the file.
func ParseFile(fsys fs.FS, name string) (*Definition, error) {
	format, ok := formatFor(name)
	if !ok {
		return nil, fmt.Errorf("%s: unsupported launch file extension", name)
	}
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	def, err := Parse(f, format)
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(path.Base(name), path.Ext(name))
	}
	return def, nil
}

// Add registers def under its name, replacing any existing entry.
func (c *Catalog) Add(def *Definition) {
	for {
		cur := c.launches.Load()
		next := &catalogSet{byName: make(map[string]*Definition, len(cur.byName)+1), updatedAt: time.Now()}
		for k, v := range cur.byName {
			next.byName[k] = v
		}
		next.byName[def.Name] = def
		if c.launches.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Get returns the definition registered under name.
func (c *Catalog) Get(name string) (*Definition, error) {
	def, ok := c.launches.Load().byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return def, nil
}

// List returns summaries of all launches ordered by liftoff time.
func (c *Catalog) List() []Summary {
	set := c.launches.Load()
	out := make([]Summary, 0, len(set.byName))
	for _, def := range set.byName {
		out = append(out, def.Summarize())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Liftoff.Equal(out[j].Liftoff) {
			return out[i].Name < out[j].Name
		}
		return out[i].Liftoff.Before(out[j].Liftoff)
	})
	return out
}

// UpdatedAt returns when the catalog last changed through Load or Add, or
// the zero time if it never has.
func (c *Catalog) UpdatedAt() time.Time {
	return c.launches.Load().updatedAt
}

// Len returns the number of loaded launches.
func (c *Catalog) Len() int {
	return len(c.launches.Load().byName)
}

func formatFor(name string) (Format, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return 0, false
}
