package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tradeassist/internal/agents"
	"tradeassist/internal/llm"
	"tradeassist/internal/memory"
	"tradeassist/internal/persistence"
)

const (
	historyWindow      = 10
	longMemoryInterval = 10 // turns between long-term summaries
	longMemoryWindow   = 20 // messages covered by one summary
)

// Orchestrator drives one chat request end to end: durable state changes and
// a correctly ordered SSE stream.
type Orchestrator struct {
	Store   persistence.Store
	Memory  *memory.Service // nil when the memory feature is disabled
	Factory *agents.Factory
	Runner  *agents.Runner

	DevAutoCreateUser  bool
	MemoryWriteTimeout time.Duration
}

func (o *Orchestrator) memoryTimeout() time.Duration {
	if o.MemoryWriteTimeout > 0 {
		return o.MemoryWriteTimeout
	}
	return 10 * time.Second
}

// HistoryTurn is a client-supplied prior turn, used only when no persisted
// session history exists.
type HistoryTurn struct {
	Role    string
	Content string
}

// TradeChatRequest is the general trade-chat request.
type TradeChatRequest struct {
	Message   string
	UserID    string
	GenChatID int64
	History   []HistoryTurn
}

// DocumentChatRequest covers both document variants; the handler fills the
// fields its endpoint accepts.
type DocumentChatRequest struct {
	DocID           int64
	Message         string
	UserID          string
	DocumentContent string // writing variant
	DocumentName    string // reading variant
	DocumentType    string // reading variant
	History         []HistoryTurn
}

// mergeClientHistory falls back to the request's history when the store has
// none for this session (e.g. a sessionless trade chat).
func mergeClientHistory(stored []persistence.Message, client []HistoryTurn) []persistence.Message {
	if len(stored) > 0 || len(client) == 0 {
		return stored
	}
	out := make([]persistence.Message, 0, len(client))
	for _, t := range client {
		role := t.Role
		if role == "assistant" {
			role = "agent"
		}
		out = append(out, persistence.Message{Role: role, Content: t.Content})
	}
	if len(out) > historyWindow {
		out = out[len(out)-historyWindow:]
	}
	return out
}

// resolveUser accepts a numeric id or an employee-number string. Unknown
// users are auto-created in dev mode; otherwise memory features are skipped
// for the request.
func (o *Orchestrator) resolveUser(ctx context.Context, ident string) (persistence.User, bool) {
	if strings.TrimSpace(ident) == "" {
		return persistence.User{}, false
	}
	u, err := o.Store.GetUser(ctx, ident)
	if err == nil {
		return u, true
	}
	if errors.Is(err, persistence.ErrNotFound) && o.DevAutoCreateUser {
		u, cerr := o.Store.CreateUser(ctx, ident, "User_"+ident)
		if cerr == nil {
			log.Info().Str("emp_no", ident).Int64("user_id", u.ID).Msg("auto-created user")
			return u, true
		}
		log.Warn().Err(cerr).Str("ident", ident).Msg("user auto-create failed")
	}
	return persistence.User{}, false
}

func historyToLLM(history []persistence.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role == "agent" {
			role = "assistant"
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// relay consumes the runner's event stream, translating it to SSE frames.
// Tool frames are deduplicated by name within the turn.
func (o *Orchestrator) relay(rs *agents.RunStream, emit Emitter) (string, []ToolInfo, error) {
	var full strings.Builder
	var toolsUsed []ToolInfo
	seen := map[string]bool{}

	for ev := range rs.Events() {
		switch e := ev.(type) {
		case agents.TokenDelta:
			full.WriteString(e.Text)
			if err := emit(textFrame(e.Text)); err != nil {
				return full.String(), toolsUsed, err
			}
		case agents.ToolCalled:
			if seen[e.Name] {
				continue
			}
			seen[e.Name] = true
			info := displayInfo(e.Name)
			toolsUsed = append(toolsUsed, info)
			if err := emit(toolFrame(info)); err != nil {
				return full.String(), toolsUsed, err
			}
		case agents.Finished:
			if full.Len() == 0 && e.FinalText != "" {
				full.WriteString(e.FinalText)
			}
		case agents.Failed:
			return full.String(), toolsUsed, e.Err
		}
	}
	return full.String(), toolsUsed, nil
}

// finishStream runs edit extraction and the terminal frames shared by every
// variant, then returns the parsed edit (if any).
func finishStream(full string, toolsUsed []ToolInfo, emit Emitter) *EditResponse {
	edit := ParseEditResponse(full)
	if edit != nil {
		_ = emit(Frame{"type": "edit", "message": edit.Message, "changes": edit.Changes})
	}
	_ = emit(doneFrame(toolsUsed))
	return edit
}

func assistantMetadata(toolsUsed []ToolInfo, edit *EditResponse) map[string]any {
	meta := map[string]any{
		"tools_used": toolsUsed,
		"is_edit":    edit != nil,
	}
	if edit != nil {
		meta["changes"] = edit.Changes
		meta["edit_message"] = edit.Message
	}
	return meta
}

// StreamTradeChat handles the general trade chat variant.
func (o *Orchestrator) StreamTradeChat(ctx context.Context, req TradeChatRequest, emit Emitter) {
	if strings.TrimSpace(req.Message) == "" {
		_ = emit(errorFrame("message 필드가 필요합니다."))
		return
	}

	var (
		user           persistence.User
		hasUser        bool
		genChat        *persistence.GenChat
		userMsgID      int64
		isFirstMessage bool
	)

	user, hasUser = o.resolveUser(ctx, req.UserID)
	if hasUser {
		if req.GenChatID > 0 {
			if gc, err := o.Store.GetGenChat(ctx, req.GenChatID); err == nil {
				genChat = &gc
			} else {
				log.Warn().Int64("gen_chat_id", req.GenChatID).Msg("gen chat not found, creating a new session")
			}
		}
		if genChat == nil {
			gc, err := o.Store.CreateGenChat(ctx, user.ID, "일반 채팅")
			if err != nil {
				_ = emit(errorFrame("채팅 세션 생성 실패"))
				return
			}
			genChat = &gc
			isFirstMessage = true
		}
		if m, err := o.Store.AddGenMessage(ctx, genChat.ID, "user", req.Message, nil); err == nil {
			userMsgID = m.ID
		} else {
			log.Error().Err(err).Int64("gen_chat_id", genChat.ID).Msg("user turn persist failed")
		}
	}

	var history []persistence.Message
	if genChat != nil {
		var err error
		history, err = o.Store.RecentGenMessages(ctx, genChat.ID, userMsgID, historyWindow)
		if err != nil {
			log.Warn().Err(err).Int64("gen_chat_id", genChat.ID).Msg("history load failed")
		}
	}
	history = mergeClientHistory(history, req.History)

	init := Frame{"type": "init"}
	if genChat != nil {
		init["gen_chat_id"] = genChat.ID
	}
	if err := emit(init); err != nil {
		return
	}

	sections := &contextSections{}
	if o.Memory != nil && genChat != nil {
		chatCtx := o.Memory.BuildGenChatContext(ctx, genChat.ID, user.ID, req.Message, isFirstMessage)
		sections.addMemories(nil, &chatCtx)
		_ = emit(contextFrame(chatCtx.Summary))
	}
	sections.addHistoryPreview(history)

	agent, err := o.Factory.Trade(ctx)
	if err != nil {
		_ = emit(errorFrame("에이전트 초기화 실패: " + err.Error()))
		return
	}
	_ = emit(agentInfoFrame(agent, "general"))

	input := append(historyToLLM(history), llm.Message{Role: "user", Content: sections.compose(req.Message)})
	full, toolsUsed, runErr := o.relay(o.Runner.RunStreamed(ctx, agent, input), emit)

	var edit *EditResponse
	if runErr != nil {
		if ctx.Err() == nil {
			_ = emit(errorFrame(runErr.Error()))
		}
	} else {
		edit = finishStream(full, toolsUsed, emit)
	}

	if genChat != nil && full != "" {
		if _, err := o.Store.AddGenMessage(context.WithoutCancel(ctx), genChat.ID, "agent", full, assistantMetadata(toolsUsed, edit)); err != nil {
			log.Error().Err(err).Int64("gen_chat_id", genChat.ID).Msg("assistant turn persist failed")
		}
	}

	if runErr == nil && ctx.Err() == nil && genChat != nil && full != "" && o.Memory != nil {
		o.writeGenChatMemories(ctx, genChat.ID, user.ID, req.Message, full)
	}
}

// StreamDocumentChat handles both document variants. The agent is selected
// by document state: reading when the document is an ingested upload,
// writing otherwise.
func (o *Orchestrator) StreamDocumentChat(ctx context.Context, req DocumentChatRequest, emit Emitter) {
	if strings.TrimSpace(req.Message) == "" {
		_ = emit(errorFrame("message 필드가 필요합니다."))
		return
	}
	if req.DocID <= 0 {
		_ = emit(errorFrame("doc_id 필드가 필요합니다."))
		return
	}

	doc, err := o.Store.GetDocument(ctx, req.DocID)
	if err != nil {
		_ = emit(errorFrame(fmt.Sprintf("Document를 찾을 수 없습니다: doc_id=%d", req.DocID)))
		return
	}

	user, hasUser := o.resolveUser(ctx, req.UserID)

	var userMsgID int64
	if m, err := o.Store.AddDocMessage(ctx, doc.ID, "user", req.Message, nil); err == nil {
		userMsgID = m.ID
	} else {
		log.Error().Err(err).Int64("doc_id", doc.ID).Msg("user turn persist failed")
	}

	history, err := o.Store.RecentDocMessages(ctx, doc.ID, userMsgID, historyWindow)
	if err != nil {
		log.Warn().Err(err).Int64("doc_id", doc.ID).Msg("history load failed")
	}
	history = mergeClientHistory(history, req.History)

	if err := emit(Frame{"type": "init", "doc_id": doc.ID, "trade_id": doc.TradeID}); err != nil {
		return
	}

	// Buyer comes from the latest version's body; the editor content is a
	// fallback for not-yet-saved documents.
	buyerName := ""
	latestHTML := ""
	if v, verr := o.Store.LatestDocVersion(ctx, doc.ID); verr == nil {
		latestHTML = v.HTML
	}
	if buyerName = ExtractBuyer(latestHTML); buyerName == "" {
		buyerName = ExtractBuyer(req.DocumentContent)
	}

	sections := &contextSections{}
	if o.Memory != nil && hasUser {
		docCtx := o.Memory.BuildDocContext(ctx, doc.ID, user.ID, req.Message, buyerName)
		sections.addMemories(&docCtx, nil)
		_ = emit(contextFrame(docCtx.Summary))
	}
	sections.addSiblings(o.siblingSnapshots(ctx, doc))
	reading := doc.DocMode == "upload" && doc.UploadStatus == "ready"
	if !reading {
		sections.addEditorContent(req.DocumentContent)
	}
	sections.addHistoryPreview(history)

	var agent agents.Agent
	var agentErr error
	if reading {
		name := req.DocumentName
		if name == "" {
			name = doc.OriginalFilename
		}
		docType := req.DocumentType
		if docType == "" {
			docType = docTypeName(doc.DocType)
		}
		agent, agentErr = o.Factory.DocumentReader(ctx, doc.ID, name, docType)
	} else {
		agent, agentErr = o.Factory.DocumentWriter(ctx, truncateRunes(htmlToText(req.DocumentContent), editorContentLimit))
	}
	if agentErr != nil {
		_ = emit(errorFrame("에이전트 초기화 실패: " + agentErr.Error()))
		return
	}
	_ = emit(agentInfoFrame(agent, doc.DocMode))

	input := append(historyToLLM(history), llm.Message{Role: "user", Content: sections.compose(req.Message)})
	full, toolsUsed, runErr := o.relay(o.Runner.RunStreamed(ctx, agent, input), emit)

	var edit *EditResponse
	if runErr != nil {
		if ctx.Err() == nil {
			_ = emit(errorFrame(runErr.Error()))
		}
	} else {
		edit = finishStream(full, toolsUsed, emit)
	}

	if full != "" {
		if _, err := o.Store.AddDocMessage(context.WithoutCancel(ctx), doc.ID, "agent", full, assistantMetadata(toolsUsed, edit)); err != nil {
			log.Error().Err(err).Int64("doc_id", doc.ID).Msg("assistant turn persist failed")
		}
	}

	if runErr == nil && ctx.Err() == nil && hasUser && full != "" && o.Memory != nil {
		o.writeDocMemories(ctx, doc.ID, user.ID, buyerName, req.Message, full)
	}
}

func agentInfoFrame(agent agents.Agent, docMode string) Frame {
	return Frame{"type": "agent_info", "agent": map[string]any{
		"name":     agent.Name,
		"model":    agent.Model,
		"doc_mode": docMode,
		"tools":    agent.ToolNames(),
	}}
}

// siblingSnapshots loads the latest version of every other document under
// the same trade, flattened for prompting.
func (o *Orchestrator) siblingSnapshots(ctx context.Context, doc persistence.Document) []siblingSnapshot {
	siblings, err := o.Store.SiblingDocuments(ctx, doc.TradeID, doc.ID)
	if err != nil {
		log.Warn().Err(err).Int64("trade_id", doc.TradeID).Msg("sibling document load failed")
		return nil
	}
	var out []siblingSnapshot
	for _, sib := range siblings {
		v, err := o.Store.LatestDocVersion(ctx, sib.ID)
		if err != nil {
			continue
		}
		text := htmlToText(v.HTML)
		if text == "" {
			continue
		}
		out = append(out, siblingSnapshot{DocType: sib.DocType, Text: text})
	}
	return out
}

// writeDocMemories runs the best-effort memory write-back after the stream
// completed. It uses its own deadline, detached from the request context, so
// a slow memory write never affects the already-delivered reply.
func (o *Orchestrator) writeDocMemories(ctx context.Context, docID, userID int64, buyerName, userMsg, assistantMsg string) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.memoryTimeout())
	defer cancel()

	messages := []memory.Message{
		{Role: "user", Content: userMsg},
		{Role: "assistant", Content: assistantMsg},
	}
	res := o.Memory.SaveSmart(mctx, messages, userID, memory.SaveSmartOptions{
		DocID:     docID,
		BuyerName: buyerName,
		Flags:     memory.SaveFlags{SaveDoc: true, SaveUser: true, SaveBuyer: buyerName != ""},
	})
	log.Debug().Int64("doc_id", docID).Int("saved", res.Total).Msg("memory write-back done")

	total, err := o.Store.CountDocMessages(mctx, docID)
	if err != nil {
		return
	}
	if turn := total / 2; turn > 0 && turn%longMemoryInterval == 0 {
		recent, err := o.Store.LastDocMessages(mctx, docID, longMemoryWindow)
		if err != nil {
			log.Warn().Err(err).Int64("doc_id", docID).Msg("long memory window load failed")
			return
		}
		turnRange := fmt.Sprintf("%d-%d", turn-longMemoryInterval+1, turn)
		if _, err := o.Memory.AddDocLong(mctx, docID, userID, toMemoryMessages(recent), turnRange); err != nil {
			log.Warn().Err(err).Int64("doc_id", docID).Msg("long memory save failed")
		}
	}
}

func (o *Orchestrator) writeGenChatMemories(ctx context.Context, genChatID, userID int64, userMsg, assistantMsg string) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.memoryTimeout())
	defer cancel()

	messages := []memory.Message{
		{Role: "user", Content: userMsg},
		{Role: "assistant", Content: assistantMsg},
	}
	res := o.Memory.SaveSmart(mctx, messages, userID, memory.SaveSmartOptions{
		GenChatID: genChatID,
		Flags:     memory.SaveFlags{SaveDoc: true, SaveUser: true},
	})
	log.Debug().Int64("gen_chat_id", genChatID).Int("saved", res.Total).Msg("memory write-back done")

	total, err := o.Store.CountGenMessages(mctx, genChatID)
	if err != nil {
		return
	}
	if turn := total / 2; turn > 0 && turn%longMemoryInterval == 0 {
		recent, err := o.Store.LastGenMessages(mctx, genChatID, longMemoryWindow)
		if err != nil {
			log.Warn().Err(err).Int64("gen_chat_id", genChatID).Msg("long memory window load failed")
			return
		}
		turnRange := fmt.Sprintf("%d-%d", turn-longMemoryInterval+1, turn)
		if _, err := o.Memory.AddGenChatLong(mctx, genChatID, userID, toMemoryMessages(recent), turnRange); err != nil {
			log.Warn().Err(err).Int64("gen_chat_id", genChatID).Msg("long memory save failed")
		}
	}
}

func toMemoryMessages(msgs []persistence.Message) []memory.Message {
	out := make([]memory.Message, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role == "agent" {
			role = "assistant"
		}
		out = append(out, memory.Message{Role: role, Content: m.Content})
	}
	return out
}
