package tool

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
)

// CatalogOptions configure a Catalog.
type CatalogOptions struct {
	Logger logging.Logger
}

type entry struct {
	tool Tool
	tags []string
}

// Catalog is a case-insensitive registry of tools. It is append-only and
// safe for concurrent use; lookups take a read lock.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	logger  logging.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(optFns ...func(o *CatalogOptions)) *Catalog {
	opts := CatalogOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Catalog{entries: map[string]*entry{}, logger: opts.Logger}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register adds t under its name. Names are unique ignoring case.
func (c *Catalog) Register(t Tool, tags ...string) error {
	if t == nil {
		return fmt.Errorf("register: nil tool")
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return fmt.Errorf("register: tool name must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(name)
	if existing, ok := c.entries[k]; ok {
		return fmt.Errorf("%w: %s (already registered as %s)", ErrDuplicateTool, name, existing.tool.Name())
	}

	all := append(slices.Clone(t.Tags()), tags...)
	slices.Sort(all)
	c.entries[k] = &entry{tool: t, tags: slices.Compact(all)}
	c.order = append(c.order, k)

	c.logger.Debug("tool.catalog.registered", "tool", name, "tags", all)

	return nil
}

// MustRegister is Register that panics on error.
func (c *Catalog) MustRegister(t Tool, tags ...string) {
	if err := c.Register(t, tags...); err != nil {
		panic(err)
	}
}

// RegisterAll registers every tool candidate exposed by owner and returns how
// many were added. owner may be a Provider, a []any, a Tool or an Adapter.
// Candidates that are neither Tool nor Adapter, adapters that fail, and
// duplicates are skipped and logged at debug level.
func (c *Catalog) RegisterAll(owner any, tags ...string) int {
	var candidates []any
	switch o := owner.(type) {
	case Provider:
		candidates = o.Tools()
	case []any:
		candidates = o
	case []Tool:
		for _, t := range o {
			candidates = append(candidates, t)
		}
	default:
		candidates = []any{owner}
	}

	n := 0
	for _, cand := range candidates {
		var t Tool
		switch v := cand.(type) {
		case Tool:
			t = v
		case Adapter:
			at, err := v.AsTool()
			if err != nil {
				c.logger.Debug("tool.catalog.skipped", "candidate", fmt.Sprintf("%T", cand), "error", err.Error())
				continue
			}
			t = at
		default:
			c.logger.Debug("tool.catalog.skipped", "candidate", fmt.Sprintf("%T", cand), "reason", "not a tool")
			continue
		}
		if err := c.Register(t, tags...); err != nil {
			c.logger.Debug("tool.catalog.skipped", "candidate", fmt.Sprintf("%T", cand), "error", err.Error())
			continue
		}
		n++
	}
	return n
}

// Get returns the tool registered under name (ignoring case).
func (c *Catalog) Get(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key(name)]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Contains reports whether a tool with the given name exists (ignoring case).
func (c *Catalog) Contains(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.order)
}

// Names returns canonical tool names in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.order))
	for i, k := range c.order {
		names[i] = c.entries[k].tool.Name()
	}
	return names
}

// Tools returns all tools in registration order.
func (c *Catalog) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tools := make([]Tool, len(c.order))
	for i, k := range c.order {
		tools[i] = c.entries[k].tool
	}
	return tools
}

// ByTag returns the tools carrying tag, in registration order.
func (c *Catalog) ByTag(tag string) []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var tools []Tool
	for _, k := range c.order {
		e := c.entries[k]
		if slices.Contains(e.tags, tag) {
			tools = append(tools, e.tool)
		}
	}
	return tools
}

// Definitions returns provider-facing definitions of every tool.
func (c *Catalog) Definitions() []model.ToolDefinition {
	return Definitions(c.Tools())
}

// Definitions converts tools into provider-facing definitions.
func Definitions(tools []Tool) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	return defs
}
