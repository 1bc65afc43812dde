// Package tools holds the search primitives the agent can invoke.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"tradeassist/internal/llm"
)

// Tool is an executable capability the agent can call.
type Tool interface {
	Name() string
	JSONSchema() map[string]any
	Call(ctx context.Context, raw json.RawMessage) (any, error)
}

// Schemas converts a tool list into the provider's schema shape.
func Schemas(ts []Tool) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(ts))
	for _, t := range ts {
		schema := t.JSONSchema()
		out = append(out, llm.ToolSchema{
			Name:        t.Name(),
			Description: strFrom(schema["description"]),
			Parameters:  mapFrom(schema["parameters"]),
		})
	}
	return out
}

// Dispatch invokes a tool by name and marshals its result. Tool errors are
// folded into a warning payload so a failing tool never crashes the turn.
func Dispatch(ctx context.Context, ts []Tool, name string, raw json.RawMessage) []byte {
	for _, t := range ts {
		if t.Name() != name {
			continue
		}
		res, err := t.Call(ctx, raw)
		if err != nil {
			b, _ := json.Marshal(map[string]any{"ok": false, "warning": err.Error(), "results": []any{}})
			return b
		}
		b, err := json.Marshal(res)
		if err != nil {
			b, _ = json.Marshal(map[string]any{"ok": false, "warning": err.Error(), "results": []any{}})
			return b
		}
		return b
	}
	b, _ := json.Marshal(map[string]any{"ok": false, "warning": fmt.Sprintf("unknown tool %q", name), "results": []any{}})
	return b
}

func strFrom(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func mapFrom(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
