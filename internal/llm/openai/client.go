// Package openai implements llm.Provider and llm.Embedder on the OpenAI API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"

	"tradeassist/internal/config"
	"tradeassist/internal/llm"
)

type Client struct {
	sdk            sdk.Client
	model          string
	embeddingModel string
	dimensions     int
}

func New(c config.OpenAIConfig) *Client {
	return &Client{
		sdk:            sdk.NewClient(option.WithAPIKey(c.APIKey)),
		model:          c.Model,
		embeddingModel: c.EmbeddingModel,
		dimensions:     c.EmbeddingDimensions,
	}
}

func (c *Client) effectiveModel(model string) string {
	if model != "" {
		return model
	}
	return c.model
}

// Chat sends a non-streaming chat completion request.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.effectiveModel(model)),
		Messages: AdaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = AdaptSchemas(tools)
	}

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", time.Since(start)).Msg("chat_completion_error")
		return llm.Message{}, err
	}
	if len(comp.Choices) == 0 {
		return llm.Message{}, fmt.Errorf("no choices returned")
	}
	log.Debug().
		Str("model", string(params.Model)).
		Int("tools", len(tools)).
		Dur("duration", time.Since(start)).
		Int("prompt_tokens", int(comp.Usage.PromptTokens)).
		Int("completion_tokens", int(comp.Usage.CompletionTokens)).
		Msg("chat_completion_ok")

	msg := comp.Choices[0].Message
	out := llm.Message{Role: "assistant", Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		if v, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok {
			if isEmptyArgs(v.Function.Arguments) {
				log.Warn().Str("tool", v.Function.Name).Str("id", v.ID).Msg("skipping tool call with empty arguments")
				continue
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				Name: v.Function.Name,
				Args: json.RawMessage(v.Function.Arguments),
				ID:   v.ID,
			})
		}
	}
	return out, nil
}

// ChatStream streams a chat completion. Tool calls arrive incrementally, so
// they are accumulated per API-provided index and flushed to the handler once
// the choice reports a finish reason.
func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.effectiveModel(model)),
		Messages: AdaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = AdaptSchemas(tools)
	}
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	start := time.Now()
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	// Accumulate tool calls across chunks since they come incrementally.
	// Key by tc.Index (the API-provided index), NOT the iteration index:
	// chunks may contain only a subset of the calls.
	toolCalls := make(map[int]*llm.ToolCall)
	toolCallsFlushed := false
	var promptTokens, completionTokens int

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			// The final chunk may carry only usage.
			if chunk.JSON.Usage.Valid() && chunk.JSON.Usage.Raw() != "null" {
				promptTokens = int(chunk.Usage.PromptTokens)
				completionTokens = int(chunk.Usage.CompletionTokens)
			}
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			h.OnDelta(delta.Content)
		}

		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if toolCalls[idx] == nil {
				toolCalls[idx] = &llm.ToolCall{ID: tc.ID}
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args = json.RawMessage(string(toolCalls[idx].Args) + tc.Function.Arguments)
			}
		}

		if chunk.Choices[0].FinishReason != "" && !toolCallsFlushed {
			for _, tc := range toolCalls {
				if tc != nil && tc.Name != "" && !isEmptyArgs(string(tc.Args)) {
					h.OnToolCall(*tc)
				} else if tc != nil && tc.Name != "" {
					log.Warn().Str("tool", tc.Name).Str("id", tc.ID).Msg("skipping tool call with empty arguments in stream")
				}
			}
			toolCallsFlushed = true
			// Do not break: a final usage chunk may still follow.
		}
	}

	err := stream.Err()
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", time.Since(start)).Msg("chat_stream_error")
		return err
	}
	log.Debug().
		Str("model", string(params.Model)).
		Int("tools", len(tools)).
		Dur("duration", time.Since(start)).
		Int("prompt_tokens", promptTokens).
		Int("completion_tokens", completionTokens).
		Msg("chat_stream_ok")
	return nil
}

// Embed generates embeddings for a batch of texts in a single API call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(c.embeddingModel),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		out[int(item.Index)] = vec
	}
	return out, nil
}

func (c *Client) Dimensions() int { return c.dimensions }

func isEmptyArgs(args string) bool {
	t := strings.TrimSpace(args)
	return t == "" || t == "{}" || t == "null"
}
