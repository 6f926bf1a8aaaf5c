package kernel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownSpec is returned when no runtime is registered for a kernel spec.
var ErrUnknownSpec = errors.New("unknown kernel spec")

// Catalog maps kernel spec names to the runtime that starts them.
type Catalog struct {
	mu          sync.RWMutex
	runtimes    map[string]Runtime
	defaultSpec string
}

// NewCatalog creates an empty catalog. An empty spec name passed to Resolve
// selects defaultSpec.
func NewCatalog(defaultSpec string) *Catalog {
	return &Catalog{
		runtimes:    make(map[string]Runtime),
		defaultSpec: defaultSpec,
	}
}

// Register makes rt the runtime for spec.
func (c *Catalog) Register(spec string, rt Runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtimes[spec] = rt
}

// Resolve returns the runtime for spec along with the resolved spec name.
func (c *Catalog) Resolve(spec string) (Runtime, string, error) {
	if spec == "" {
		spec = c.defaultSpec
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	rt, ok := c.runtimes[spec]
	if !ok {
		return nil, spec, fmt.Errorf("%w %q", ErrUnknownSpec, spec)
	}
	return rt, spec, nil
}

// Default returns the spec name used when none is given.
func (c *Catalog) Default() string {
	return c.defaultSpec
}

// Specs returns the registered spec names, sorted.
func (c *Catalog) Specs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	specs := make([]string, 0, len(c.runtimes))
	for name := range c.runtimes {
		specs = append(specs, name)
	}
	sort.Strings(specs)
	return specs
}
