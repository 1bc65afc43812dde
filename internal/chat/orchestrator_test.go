package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeassist/internal/agents"
	"tradeassist/internal/config"
	"tradeassist/internal/llm"
	"tradeassist/internal/persistence"
	"tradeassist/internal/prompts"
)

// scriptedProvider replays one scripted step per ChatStream call and records
// the messages each call received.
type scriptedProvider struct {
	steps []func(h llm.StreamHandler)
	calls [][]llm.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{}, errors.New("not used")
}

func (p *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	cp := make([]llm.Message, len(msgs))
	copy(cp, msgs)
	p.calls = append(p.calls, cp)
	if len(p.steps) == 0 {
		return errors.New("no scripted steps left")
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	step(h)
	return nil
}

type fakeTool struct{ name string }

func (f *fakeTool) Name() string { return f.name }
func (f *fakeTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "fake",
		"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}
func (f *fakeTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"ok": true, "results": []any{}}, nil
}

func newTestOrchestrator(provider llm.Provider) (*Orchestrator, *persistence.MemoryStore) {
	store := persistence.NewMemory()
	factory := &agents.Factory{
		Registry:  prompts.NewRegistry(config.PromptsConfig{}),
		Model:     "gpt-4o",
		Knowledge: &fakeTool{name: "search_trade_documents"},
		UserDoc:   &fakeTool{name: "search_user_document"},
	}
	orch := &Orchestrator{
		Store:             store,
		Factory:           factory,
		Runner:            agents.NewRunner(provider),
		DevAutoCreateUser: true,
	}
	return orch, store
}

type frameRecorder struct {
	frames []Frame
}

func (r *frameRecorder) emit(f Frame) error {
	r.frames = append(r.frames, f)
	return nil
}

func frameTypes(frames []Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f["type"].(string)
	}
	return out
}

const editBody = "```json\n{\"type\":\"edit\",\"message\":\"가격 변경\",\"changes\":[{\"fieldId\":\"price\",\"value\":\"USD 50,000\"}]}\n```"

func TestDocumentChatStreamWithEdit(t *testing.T) {
	provider := &scriptedProvider{
		steps: []func(h llm.StreamHandler){
			func(h llm.StreamHandler) {
				h.OnDelta("검색 중입니다. ")
				// The same tool twice in one turn must produce one frame.
				h.OnToolCall(llm.ToolCall{Name: "search_trade_documents", Args: json.RawMessage(`{"query":"price"}`), ID: "c1"})
				h.OnToolCall(llm.ToolCall{Name: "search_trade_documents", Args: json.RawMessage(`{"query":"terms"}`), ID: "c2"})
			},
			func(h llm.StreamHandler) {
				h.OnDelta(editBody)
			},
		},
	}
	orch, store := newTestOrchestrator(provider)
	_, docs := store.SeedTrade(1, "offer", "pi")
	doc := docs[1]
	store.SeedDocVersion(docs[0].ID, "Offer", "<p>To: Global Trading Company Address Seoul</p>")

	rec := &frameRecorder{}
	orch.StreamDocumentChat(context.Background(), DocumentChatRequest{
		DocID:   doc.ID,
		Message: "가격을 USD 50,000으로 바꿔줘",
	}, rec.emit)

	types := frameTypes(rec.frames)
	require.NotEmpty(t, types)

	// init is first, done is last, edit immediately precedes done.
	assert.Equal(t, "init", types[0])
	assert.Equal(t, "done", types[len(types)-1])
	assert.Equal(t, "edit", types[len(types)-2])
	assert.Equal(t, doc.ID, rec.frames[0]["doc_id"])
	assert.Equal(t, doc.TradeID, rec.frames[0]["trade_id"])

	toolFrames := 0
	for _, f := range rec.frames {
		if f["type"] == "tool" {
			toolFrames++
		}
	}
	assert.Equal(t, 1, toolFrames, "tool frames must be deduplicated by name")

	// Edit frame carries canonical changes.
	edit := rec.frames[len(rec.frames)-2]
	changes := edit["changes"].([]EditChange)
	require.Len(t, changes, 1)
	assert.Equal(t, EditChange{FieldID: "price", Value: "USD 50,000"}, changes[0])

	// Both turns persisted; the assistant turn carries edit metadata.
	msgs, err := store.LastDocMessages(context.Background(), doc.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "agent", msgs[1].Role)
	assert.Equal(t, true, msgs[1].Metadata["is_edit"])
}

func TestTradeChatStreamWithoutUser(t *testing.T) {
	provider := &scriptedProvider{
		steps: []func(h llm.StreamHandler){
			func(h llm.StreamHandler) {
				h.OnDelta("FOB는 ")
				h.OnDelta("Free On Board입니다.")
			},
		},
	}
	orch, _ := newTestOrchestrator(provider)

	rec := &frameRecorder{}
	orch.StreamTradeChat(context.Background(), TradeChatRequest{Message: "What is FOB?"}, rec.emit)

	types := frameTypes(rec.frames)
	assert.Equal(t, "init", types[0])
	assert.NotContains(t, rec.frames[0], "gen_chat_id")
	assert.Contains(t, types, "text")
	assert.Equal(t, "done", types[len(types)-1])
}

func TestTradeChatCreatesSessionAndPersists(t *testing.T) {
	provider := &scriptedProvider{
		steps: []func(h llm.StreamHandler){
			func(h llm.StreamHandler) { h.OnDelta("안녕하세요") },
		},
	}
	orch, store := newTestOrchestrator(provider)

	rec := &frameRecorder{}
	orch.StreamTradeChat(context.Background(), TradeChatRequest{Message: "hi", UserID: "emp001"}, rec.emit)

	genChatID, ok := rec.frames[0]["gen_chat_id"].(int64)
	require.True(t, ok, "init frame must surface the server-assigned session id")

	msgs, err := store.LastGenMessages(context.Background(), genChatID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "agent", msgs[1].Role)
}

func TestHistoryExcludesCurrentTurnAndMapsRoles(t *testing.T) {
	provider := &scriptedProvider{
		steps: []func(h llm.StreamHandler){
			func(h llm.StreamHandler) { h.OnDelta("이어서 답변합니다") },
		},
	}
	orch, store := newTestOrchestrator(provider)
	_, docs := store.SeedTrade(1, "offer")
	doc := docs[0]

	ctx := context.Background()
	_, err := store.AddDocMessage(ctx, doc.ID, "user", "첫 질문", nil)
	require.NoError(t, err)
	_, err = store.AddDocMessage(ctx, doc.ID, "agent", "첫 답변", nil)
	require.NoError(t, err)

	rec := &frameRecorder{}
	orch.StreamDocumentChat(ctx, DocumentChatRequest{DocID: doc.ID, Message: "두번째 질문"}, rec.emit)

	require.Len(t, provider.calls, 1)
	msgs := provider.calls[0]
	// system + two history turns + augmented user message.
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "첫 질문", msgs[1].Content)
	assert.Equal(t, "assistant", msgs[2].Role, "persisted agent role maps to runner role assistant")
	assert.Equal(t, "user", msgs[3].Role)
	assert.Contains(t, msgs[3].Content, "두번째 질문")
	// The just-inserted user turn is not duplicated into history.
	assert.NotEqual(t, "두번째 질문", msgs[1].Content)
}

func TestDocumentReadingModeSelectsReaderAgent(t *testing.T) {
	provider := &scriptedProvider{
		steps: []func(h llm.StreamHandler){
			func(h llm.StreamHandler) { h.OnDelta("문서 내용입니다") },
		},
	}
	orch, store := newTestOrchestrator(provider)
	_, docs := store.SeedTrade(1, "contract")
	doc := docs[0]
	store.SetDocMode(doc.ID, "upload", "ready")

	rec := &frameRecorder{}
	orch.StreamDocumentChat(context.Background(), DocumentChatRequest{
		DocID:        doc.ID,
		Message:      "계약 금액이 얼마야?",
		DocumentName: "contract.pdf",
		DocumentType: "Sales Contract",
	}, rec.emit)

	var agentInfo Frame
	for _, f := range rec.frames {
		if f["type"] == "agent_info" {
			agentInfo = f
		}
	}
	require.NotNil(t, agentInfo)
	agent := agentInfo["agent"].(map[string]any)
	assert.Equal(t, "upload", agent["doc_mode"])
	assert.Contains(t, agent["tools"], "search_user_document")
}

func TestStreamErrorEmitsErrorFrame(t *testing.T) {
	provider := &scriptedProvider{} // no steps: first call errors
	orch, store := newTestOrchestrator(provider)
	_, docs := store.SeedTrade(1, "offer")

	rec := &frameRecorder{}
	orch.StreamDocumentChat(context.Background(), DocumentChatRequest{DocID: docs[0].ID, Message: "질문"}, rec.emit)

	types := frameTypes(rec.frames)
	assert.Equal(t, "init", types[0])
	assert.Equal(t, "error", types[len(types)-1])

	// The user turn stays persisted; no empty assistant turn is written.
	msgs, err := store.LastDocMessages(context.Background(), docs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestDocumentChatUnknownDocument(t *testing.T) {
	provider := &scriptedProvider{}
	orch, _ := newTestOrchestrator(provider)

	rec := &frameRecorder{}
	orch.StreamDocumentChat(context.Background(), DocumentChatRequest{DocID: 999, Message: "질문"}, rec.emit)

	require.Len(t, rec.frames, 1)
	assert.Equal(t, "error", rec.frames[0]["type"])
}
