// Package agents produces agent configurations and runs them as streaming
// turns. An Agent is an immutable value: instructions + tools + model id.
package agents

import (
	"context"
	"strconv"

	"tradeassist/internal/prompts"
	"tradeassist/internal/tools"
)

type Agent struct {
	Name         string
	Model        string
	Instructions string
	Tools        []tools.Tool
}

// ToolNames lists the agent's tool names for diagnostics.
func (a Agent) ToolNames() []string {
	names := make([]string, 0, len(a.Tools))
	for _, t := range a.Tools {
		names = append(names, t.Name())
	}
	return names
}

// Factory binds prompt templates and tool instances into the three agent
// configurations. It is stateless per call: every method builds a fresh value.
type Factory struct {
	Registry *prompts.Registry
	Model    string
	Version  int
	Label    string

	Knowledge tools.Tool // search_trade_documents
	UserDoc   tools.Tool // search_user_document
	Web       tools.Tool // search_web, nil when disabled
}

// toolset drops unconfigured (nil) tools and appends web search when enabled.
func (f *Factory) toolset(ts ...tools.Tool) []tools.Tool {
	out := make([]tools.Tool, 0, len(ts)+1)
	for _, t := range ts {
		if t != nil {
			out = append(out, t)
		}
	}
	if f.Web != nil {
		out = append(out, f.Web)
	}
	return out
}

// Trade builds the general trade-assistant configuration.
func (f *Factory) Trade(ctx context.Context) (Agent, error) {
	tpl, err := f.Registry.Get(ctx, "trade_assistant_v1", f.Version, f.Label)
	if err != nil {
		return Agent{}, err
	}
	instructions, err := tpl.Compile(nil)
	if err != nil {
		return Agent{}, err
	}
	return Agent{
		Name:         "Trade Assistant",
		Model:        f.Model,
		Instructions: instructions,
		Tools:        f.toolset(f.Knowledge),
	}, nil
}

// DocumentWriter builds the writing-mode configuration with the current
// editor body baked into the instructions.
func (f *Factory) DocumentWriter(ctx context.Context, documentContent string) (Agent, error) {
	tpl, err := f.Registry.Get(ctx, "writing_assistant_v1", f.Version, f.Label)
	if err != nil {
		return Agent{}, err
	}
	instructions, err := tpl.Compile(map[string]string{"document_content": documentContent})
	if err != nil {
		return Agent{}, err
	}
	return Agent{
		Name:         "Document Writing Assistant",
		Model:        f.Model,
		Instructions: instructions,
		Tools:        f.toolset(f.Knowledge),
	}, nil
}

// DocumentReader builds the upload-mode configuration for querying an
// ingested document.
func (f *Factory) DocumentReader(ctx context.Context, docID int64, documentName, documentType string) (Agent, error) {
	tpl, err := f.Registry.Get(ctx, "document_assistant_v1", f.Version, f.Label)
	if err != nil {
		return Agent{}, err
	}
	instructions, err := tpl.Compile(map[string]string{
		"document_id":   strconv.FormatInt(docID, 10),
		"document_name": documentName,
		"document_type": documentType,
	})
	if err != nil {
		return Agent{}, err
	}
	return Agent{
		Name:         "Trade Document Assistant",
		Model:        f.Model,
		Instructions: instructions,
		Tools:        f.toolset(f.UserDoc, f.Knowledge),
	}, nil
}
