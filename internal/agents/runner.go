package agents

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"tradeassist/internal/llm"
	"tradeassist/internal/tools"
)

// Event is one typed element of a streamed agent turn.
type Event interface{ isEvent() }

// TokenDelta is an incremental text fragment.
type TokenDelta struct{ Text string }

// ToolCalled is emitted when a tool call is dispatched.
type ToolCalled struct{ Name string }

// Finished carries the turn's final text; the channel closes after it.
type Finished struct{ FinalText string }

// Failed carries a terminal error; the channel closes after it.
type Failed struct{ Err error }

func (TokenDelta) isEvent() {}
func (ToolCalled) isEvent() {}
func (Finished) isEvent()   {}
func (Failed) isEvent()     {}

// Runner executes agent turns against an LLM provider.
type Runner struct {
	Provider llm.Provider
	MaxSteps int

	toolCallSeq uint64
}

func NewRunner(provider llm.Provider) *Runner {
	return &Runner{Provider: provider, MaxSteps: 8}
}

// RunStream is a live agent turn.
type RunStream struct {
	events chan Event
}

// Events yields the turn's typed events. The channel closes after a
// Finished or Failed event.
func (s *RunStream) Events() <-chan Event { return s.events }

type streamHandler struct {
	onDelta    func(string)
	onToolCall func(llm.ToolCall)
}

func (h *streamHandler) OnDelta(content string)     { h.onDelta(content) }
func (h *streamHandler) OnToolCall(tc llm.ToolCall) { h.onToolCall(tc) }

// RunStreamed starts an agent turn. Input is the prior role-tagged turns plus
// the new user turn; the agent's instructions become the system message.
// Cancelling ctx aborts the turn at the next stream or tool boundary.
func (r *Runner) RunStreamed(ctx context.Context, agent Agent, input []llm.Message) *RunStream {
	rs := &RunStream{events: make(chan Event, 16)}
	go r.run(ctx, agent, input, rs)
	return rs
}

func (r *Runner) run(ctx context.Context, agent Agent, input []llm.Message, rs *RunStream) {
	defer close(rs.events)

	emit := func(ev Event) bool {
		select {
		case rs.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	msgs := make([]llm.Message, 0, len(input)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: agent.Instructions})
	msgs = append(msgs, input...)

	schemas := tools.Schemas(agent.Tools)
	maxSteps := r.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 8
	}

	for step := 0; step < maxSteps; step++ {
		var (
			content   string
			toolCalls []llm.ToolCall
		)
		handler := &streamHandler{
			onDelta: func(delta string) {
				content += delta
				emit(TokenDelta{Text: delta})
			},
			onToolCall: func(tc llm.ToolCall) {
				toolCalls = append(toolCalls, tc)
			},
		}

		if err := r.Provider.ChatStream(ctx, msgs, schemas, agent.Model, handler); err != nil {
			log.Error().Err(err).Str("agent", agent.Name).Int("step", step).Msg("agent stream step failed")
			emit(Failed{Err: err})
			return
		}

		toolCalls = r.ensureToolCallIDs(toolCalls)
		msgs = append(msgs, llm.Message{Role: "assistant", Content: content, ToolCalls: toolCalls})

		if len(toolCalls) == 0 {
			emit(Finished{FinalText: content})
			return
		}

		log.Info().Str("agent", agent.Name).Int("step", step).Int("tool_calls", len(toolCalls)).Msg("agent dispatching tools")
		msgs = r.dispatchTools(ctx, agent, msgs, toolCalls, emit)
		if ctx.Err() != nil {
			emit(Failed{Err: ctx.Err()})
			return
		}
	}

	emit(Failed{Err: fmt.Errorf("agent %s exceeded %d steps", agent.Name, maxSteps)})
}

// dispatchTools executes the step's tool calls concurrently and appends
// their tool messages in call order.
func (r *Runner) dispatchTools(ctx context.Context, agent Agent, msgs []llm.Message, toolCalls []llm.ToolCall, emit func(Event) bool) []llm.Message {
	results := make([]llm.Message, len(toolCalls))
	var wg sync.WaitGroup
	for i, tc := range toolCalls {
		emit(ToolCalled{Name: tc.Name})
		wg.Add(1)
		go func(idx int, tc llm.ToolCall) {
			defer wg.Done()
			payload := tools.Dispatch(ctx, agent.Tools, tc.Name, tc.Args)
			results[idx] = llm.Message{Role: "tool", Content: string(payload), ToolID: tc.ID}
		}(i, tc)
	}
	wg.Wait()
	return append(msgs, results...)
}

func (r *Runner) ensureToolCallIDs(toolCalls []llm.ToolCall) []llm.ToolCall {
	for i := range toolCalls {
		if toolCalls[i].ID == "" {
			seq := atomic.AddUint64(&r.toolCallSeq, 1)
			toolCalls[i].ID = fmt.Sprintf("call-%d", seq)
		}
	}
	return toolCalls
}
