package formula

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages the CUE schemas merged trees are checked against.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in formula schema
// registered.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	// The built-in schema is versioned with the formula and always valid.
	_ = sr.RegisterSchema("tool_uv", "#ToolUV", builtinTreeSchema)
	return sr
}

// RegisterSchema compiles a CUE schema and registers the named definition
// inside it under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a registered schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data any) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema %s: %w", schemaName, err)
	}

	return nil
}

// ValidateTree validates a merged configuration tree against the formula
// schema.
func (sr *SchemaRegistry) ValidateTree(ctx context.Context, tree Tree) error {
	return sr.ValidateAgainstSchema(ctx, "tool_uv", map[string]any(tree))
}

// Built-in schema for the merged configuration tree.

const builtinTreeSchema = `
// Merged uv formula configuration tree
#ToolUV: {
	// How uv itself is installed
	install_method: "releases" | "pkg"

	// uv version ("latest" or a concrete version)
	version: string

	// Release-archive download parameters
	release?: {
		url_template: string
		platform?:    string
		arch?:        string
	}

	// Distribution package parameters
	pkg?: {
		name:  string
		repo?: string
	}

	// System-wide uv configuration (serialized to uv.toml)
	config?: {...}

	// System-wide tools
	tools?: {[string]: #Tool}

	// Per-user defaults
	defaults?: {...}

	// Managed users (bare booleans toggle management)
	users?: {[string]: bool | {...}}

	...
}

#Tool: {
	version_spec?:      string
	extras?: [...(string | {[string]: string})]
	with_requirements?: [...string]
	python?:            string
	upgrade?:           bool
	force?:             bool
	absent?:            bool
}
`
