package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeassist/internal/llm"
	"tradeassist/internal/tools"
)

type scriptedProvider struct {
	steps []func(h llm.StreamHandler)
	calls [][]llm.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, schemas []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{}, errors.New("not used")
}

func (p *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, schemas []llm.ToolSchema, model string, h llm.StreamHandler) error {
	cp := make([]llm.Message, len(msgs))
	copy(cp, msgs)
	p.calls = append(p.calls, cp)
	if len(p.steps) == 0 {
		return errors.New("stream backend failed")
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	step(h)
	return nil
}

type echoTool struct {
	name   string
	called int
}

func (t *echoTool) Name() string { return t.name }
func (t *echoTool) JSONSchema() map[string]any {
	return map[string]any{"description": "echo", "parameters": map[string]any{"type": "object"}}
}
func (t *echoTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	t.called++
	return map[string]any{"ok": true, "echo": string(raw)}, nil
}

func collect(rs *RunStream) []Event {
	var out []Event
	for ev := range rs.Events() {
		out = append(out, ev)
	}
	return out
}

func TestRunStreamedToolLoop(t *testing.T) {
	tool := &echoTool{name: "search_trade_documents"}
	provider := &scriptedProvider{
		steps: []func(h llm.StreamHandler){
			func(h llm.StreamHandler) {
				h.OnToolCall(llm.ToolCall{Name: "search_trade_documents", Args: json.RawMessage(`{"query":"fob"}`)})
			},
			func(h llm.StreamHandler) {
				h.OnDelta("FOB는 ")
				h.OnDelta("본선인도조건입니다.")
			},
		},
	}
	runner := NewRunner(provider)
	agent := Agent{Name: "Test", Model: "gpt-4o", Instructions: "지시문", Tools: []tools.Tool{tool}}

	events := collect(runner.RunStreamed(context.Background(), agent,
		[]llm.Message{{Role: "user", Content: "FOB가 뭐야?"}}))

	require.NotEmpty(t, events)
	assert.Equal(t, 1, tool.called)

	var sawTool bool
	var finalText string
	for _, ev := range events {
		switch e := ev.(type) {
		case ToolCalled:
			sawTool = true
			assert.Equal(t, "search_trade_documents", e.Name)
		case Finished:
			finalText = e.FinalText
		case Failed:
			t.Fatalf("unexpected failure: %v", e.Err)
		}
	}
	assert.True(t, sawTool)
	assert.Equal(t, "FOB는 본선인도조건입니다.", finalText)

	// The second step must see system, user, assistant(tool calls), tool.
	require.Len(t, provider.calls, 2)
	second := provider.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, "system", second[0].Role)
	assert.Equal(t, "user", second[1].Role)
	assert.Equal(t, "assistant", second[2].Role)
	require.Len(t, second[2].ToolCalls, 1)
	assert.NotEmpty(t, second[2].ToolCalls[0].ID, "tool calls without ids get generated ones")
	assert.Equal(t, "tool", second[3].Role)
	assert.Contains(t, second[3].Content, `"ok":true`)
}

func TestRunStreamedFinishesWithoutTools(t *testing.T) {
	provider := &scriptedProvider{
		steps: []func(h llm.StreamHandler){
			func(h llm.StreamHandler) { h.OnDelta("안녕하세요") },
		},
	}
	runner := NewRunner(provider)
	events := collect(runner.RunStreamed(context.Background(), Agent{Model: "gpt-4o"},
		[]llm.Message{{Role: "user", Content: "hi"}}))

	require.Len(t, events, 2)
	assert.Equal(t, TokenDelta{Text: "안녕하세요"}, events[0])
	assert.Equal(t, Finished{FinalText: "안녕하세요"}, events[1])
}

func TestRunStreamedProviderError(t *testing.T) {
	provider := &scriptedProvider{}
	runner := NewRunner(provider)
	events := collect(runner.RunStreamed(context.Background(), Agent{Model: "gpt-4o"},
		[]llm.Message{{Role: "user", Content: "hi"}}))

	require.Len(t, events, 1)
	failed, ok := events[0].(Failed)
	require.True(t, ok)
	assert.ErrorContains(t, failed.Err, "stream backend failed")
}

func TestRunStreamedUnknownToolYieldsWarningPayload(t *testing.T) {
	provider := &scriptedProvider{
		steps: []func(h llm.StreamHandler){
			func(h llm.StreamHandler) {
				h.OnToolCall(llm.ToolCall{Name: "not_a_tool", Args: json.RawMessage(`{}`), ID: "x"})
			},
			func(h llm.StreamHandler) { h.OnDelta("done") },
		},
	}
	runner := NewRunner(provider)
	events := collect(runner.RunStreamed(context.Background(), Agent{Model: "gpt-4o"},
		[]llm.Message{{Role: "user", Content: "hi"}}))

	var finished bool
	for _, ev := range events {
		if _, ok := ev.(Finished); ok {
			finished = true
		}
	}
	assert.True(t, finished, "an unknown tool never crashes the turn")

	second := provider.calls[1]
	assert.Contains(t, second[len(second)-1].Content, "unknown tool")
}
