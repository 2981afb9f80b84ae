// Package builtin holds the local tools that are always part of the tool
// registry, whatever servers the caller configured.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"agent-toolbridge/internal/apperr"
)

// Reserved prefixes belong to remote tools.
var reservedPrefixes = []string{"mcp_", "a2a_"}

// Handler executes a tool with decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is one local tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Handler     Handler        `json:"-"`
}

// Set is an ordered collection of local tools.
type Set struct {
	tools map[string]Tool
	order []string
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{tools: map[string]Tool{}}
}

// Register adds a tool. Names must be unique and must not use a prefix
// reserved for remote tools.
func (s *Set) Register(t Tool) error {
	if strings.TrimSpace(t.Name) == "" {
		return apperr.New(apperr.KindConfigurationInvalid, "register tool", "tool name is required")
	}
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(t.Name, p) {
			return apperr.New(apperr.KindConfigurationInvalid, "register tool",
				fmt.Sprintf("tool name %q uses reserved prefix %q", t.Name, p))
		}
	}
	if _, exists := s.tools[t.Name]; exists {
		return apperr.New(apperr.KindConfigurationInvalid, "register tool",
			fmt.Sprintf("tool %q already registered", t.Name))
	}
	if t.Handler == nil {
		return apperr.New(apperr.KindConfigurationInvalid, "register tool",
			fmt.Sprintf("tool %q has no handler", t.Name))
	}
	s.tools[t.Name] = t
	s.order = append(s.order, t.Name)
	return nil
}

// List returns the tools in registration order.
func (s *Set) List() []Tool {
	out := make([]Tool, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tools[name])
	}
	return out
}

// Names returns the sorted tool names.
func (s *Set) Names() []string {
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	return names
}

// Get returns a tool by name.
func (s *Set) Get(name string) (Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// Call runs a tool.
func (s *Set) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := s.tools[name]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "call tool", fmt.Sprintf("tool not found: %s", name))
	}
	if args == nil {
		args = map[string]any{}
	}
	return t.Handler(ctx, args)
}

// generateSchema creates the JSON schema of T from its json and jsonschema
// struct tags.
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// decodeArgs decodes raw tool arguments into out. Unknown keys are rejected.
func decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "decode arguments", err)
	}
	return nil
}

// newTool builds a tool whose schema is generated from Args and whose
// handler receives decoded Args.
func newTool[Args any](name, description string, fn func(context.Context, Args) (any, error)) (Tool, error) {
	schema, err := generateSchema[Args]()
	if err != nil {
		return Tool{}, fmt.Errorf("schema for %s: %w", name, err)
	}
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Handler: func(ctx context.Context, raw map[string]any) (any, error) {
			var args Args
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return fn(ctx, args)
		},
	}, nil
}
