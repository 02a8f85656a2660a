// Package tools implements the fixed three-tool registry dispatched by the
// JSON-RPC request server (knowthis/spec.md §4.8).
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"knowthis/internal/chatclient"
	"knowthis/internal/ingestion"
	"knowthis/internal/search"
	"knowthis/internal/vectorstore"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// NotFoundError marks an unregistered tool name; the request server maps
// this to JSON-RPC -32601 (spec §4.8: "Unknown tool name -> Method not
// found").
type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("unknown tool %q", e.Name) }

// InvalidParamsError marks a schema-validation failure; the request server
// maps this to JSON-RPC -32602.
type InvalidParamsError struct{ Err error }

func (e *InvalidParamsError) Error() string { return e.Err.Error() }
func (e *InvalidParamsError) Unwrap() error { return e.Err }

// Descriptor is what tools/list returns: name, description, and input
// schema, with no handler exposed.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// Tool pairs an input schema (used both for tools/list and for validation)
// with the handler that runs after validation passes.
type Tool struct {
	Name        string
	Description string
	Schema      any
	Handler     func(ctx context.Context, params json.RawMessage) (any, error)
}

// Registry holds exactly the tools registered at construction. Order of
// registration is preserved for tools/list.
type Registry struct {
	order []string
	tools map[string]Tool
}

func newRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// List returns the static tool descriptors (spec §4.8: "the static tool
// descriptors from C8").
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, InputSchema: t.Schema})
	}
	return out
}

// Call dispatches to a named tool's handler after decoding+validating
// params against its schema. An unregistered name changes no state and
// returns a *NotFoundError (spec scenario E5).
func (r *Registry) Call(ctx context.Context, name string, params json.RawMessage) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return t.Handler(ctx, params)
}

// decodeAndValidate unmarshals raw into dst then runs struct-tag
// validation, wrapping any failure as an InvalidParamsError (spec §4.8:
// "lengths, patterns, and ranges are enforced before the handler runs").
func decodeAndValidate(raw json.RawMessage, dst any) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return &InvalidParamsError{Err: err}
		}
	}
	if err := validate.Struct(dst); err != nil {
		return &InvalidParamsError{Err: err}
	}
	return nil
}

// NewRegistry builds the registry with exactly the three tools spec §4.8
// names: search_messages, list_channels, stats.
func NewRegistry(svc *search.Service, chat *chatclient.Client, store vectorstore.Store, state *ingestion.Store) *Registry {
	r := newRegistry()
	r.register(newSearchMessagesTool(svc))
	r.register(newListChannelsTool(chat))
	r.register(newStatsTool(store, state))
	return r
}
