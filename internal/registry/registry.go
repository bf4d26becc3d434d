package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lazerflow/lazerflow/internal/engine"
	"github.com/lazerflow/lazerflow/pkg/flow"
)

// Factory builds a fresh workflow instance. Each launch gets its own value so
// per-instance state never leaks between runs.
type Factory func() flow.Workflow

// Definition is a named workflow type that can be launched over the HTTP
// surface. ParamsSchema, when present, is a JSON Schema applied to the start
// parameters before the engine ever sees them.
type Definition struct {
	Name         string
	Description  string
	ParamsSchema json.RawMessage
	New          Factory
}

// Registry maps workflow names to definitions. Compiled parameter schemas are
// cached on first use. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	cache map[string]*jsonschema.Schema
}

func New() *Registry {
	return &Registry{
		defs:  make(map[string]Definition),
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a definition. Re-registering a name is a CONFLICT.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return flow.NewError(flow.ErrCodeValidation, "workflow definition missing name")
	}
	if def.New == nil {
		return flow.NewErrorf(flow.ErrCodeValidation, "workflow %q has no factory", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return flow.NewErrorf(flow.ErrCodeConflict, "workflow already registered: %s", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Get returns the definition for name, or a NOT_FOUND error.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, flow.NewErrorf(flow.ErrCodeNotFound, "unknown workflow: %s", name)
	}
	return def, nil
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateParams checks params against the definition's schema, if it has one.
func (r *Registry) ValidateParams(name string, params flow.Params) error {
	def, err := r.Get(name)
	if err != nil {
		return err
	}
	if len(def.ParamsSchema) == 0 {
		return nil
	}

	compiled, err := r.getOrCompile(def.ParamsSchema)
	if err != nil {
		return flow.NewErrorf(flow.ErrCodeValidation, "invalid params schema for %s", name).WithCause(err)
	}

	doc, err := toJSONValue(map[string]any(params))
	if err != nil {
		return flow.NewError(flow.ErrCodeValidation, "failed to serialize params").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return flow.NewErrorf(flow.ErrCodeValidation, "params rejected for %s", name).WithCause(err)
	}
	return nil
}

func (r *Registry) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	r.mu.RLock()
	if cached, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each schema gets its own compiler and URL to avoid resource collisions.
	url := fmt.Sprintf("lazerflow://params-schema/%d", len(r.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	r.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a value through JSON encoding so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Launcher starts registered workflows by name on an engine.
type Launcher struct {
	Registry *Registry
	Engine   *engine.Engine
}

// StartByName validates params against the definition's schema, builds a
// fresh instance, and hands it to the engine. Returns the new instance id.
func (l *Launcher) StartByName(ctx context.Context, name string, params flow.Params) (string, error) {
	def, err := l.Registry.Get(name)
	if err != nil {
		return "", err
	}
	if err := l.Registry.ValidateParams(name, params); err != nil {
		return "", err
	}
	return l.Engine.Start(ctx, def.New(), params)
}
