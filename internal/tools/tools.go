// Package tools holds the fixed set of tools the model may call mid-turn.
//
// Tool is sealed: only this package can implement it, and the registry is
// built from the builtins list below, so every name a model can reach is
// known at compile time. Lookups of any other name yield *UnknownToolError.
package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/llm"
)

// Call identifies who is invoking a tool.
type Call struct {
	SessionID string
	UserID    string
}

// Tool is a capability the model can invoke during a turn.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Description returns a human-readable description for the model.
	Description() string

	// InputSchema returns the JSON Schema for the tool's input.
	InputSchema() string

	// Execute runs the tool with the given JSON input and returns JSON output.
	Execute(ctx context.Context, call Call, input string) (string, error)

	sealed()
}

// UsageReader is the slice of the ledger the usage tool reads.
type UsageReader interface {
	Usage(ctx context.Context, userID, day string) (domain.DailyUsage, error)
	SessionUsage(ctx context.Context, sessionID string) (int64, error)
}

// Deps are the collaborators tools may need.
type Deps struct {
	Now   func() time.Time
	Usage UsageReader
}

// UnknownToolError is returned for a tool name that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

var builtins = []func(Deps) Tool{
	newCurrentTime,
	newUsageReport,
}

// Registry resolves tool names to implementations.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds the registry of built-in tools.
func NewRegistry(deps Deps) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &Registry{tools: make(map[string]Tool, len(builtins))}
	for _, build := range builtins {
		t := build(deps)
		r.tools[t.Name()] = t
	}
	return r
}

// Get returns a tool by name or *UnknownToolError.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return t, nil
}

// Execute resolves and runs a tool.
func (r *Registry) Execute(ctx context.Context, call Call, name, input string) (string, error) {
	t, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return t.Execute(ctx, call, input)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns model-ready tool definitions, sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := r.Names()
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, n := range names {
		t := r.tools[n]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}
