// Package memory implements the layered memory service: two session-scoped
// short-term tiers (document, general chat) and two permanent tiers (user
// preference, counterparty memo), all stored as summarized items in one
// vector collection keyed by scope.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tradeassist/internal/llm"
	"tradeassist/internal/prompts"
	"tradeassist/internal/vectorstore"
)

// Message is one role-tagged conversation turn handed to the write ops.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Item is a stored memory returned by reads.
type Item struct {
	ID        string  `json:"id"`
	Memory    string  `json:"memory"`
	Score     float64 `json:"score,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// Context is the assembled document-chat context.
type Context struct {
	Doc     []Item `json:"doc"`
	User    []Item `json:"user"`
	Buyer   []Item `json:"buyer"`
	Summary string `json:"summary"`
}

// GenChatContext is the assembled general-chat context.
type GenChatContext struct {
	Chat    []Item `json:"chat"`
	User    []Item `json:"user"`
	Summary string `json:"summary"`
}

// SaveFlags selects which scopes SaveSmart writes.
type SaveFlags struct {
	SaveDoc   bool
	SaveUser  bool
	SaveBuyer bool
}

// SaveResult reports per-scope write counts.
type SaveResult struct {
	User  int `json:"user"`
	Doc   int `json:"doc"`
	Buyer int `json:"buyer"`
	Total int `json:"total"`
}

type Service struct {
	store      vectorstore.Store
	embedder   llm.Embedder
	provider   llm.Provider
	registry   *prompts.Registry
	collection string
	model      string
}

func NewService(store vectorstore.Store, embedder llm.Embedder, provider llm.Provider, registry *prompts.Registry, collection, model string) *Service {
	return &Service{
		store:      store,
		embedder:   embedder,
		provider:   provider,
		registry:   registry,
		collection: collection,
		model:      model,
	}
}

// EnsureCollection creates the memory collection when missing.
func (s *Service) EnsureCollection(ctx context.Context) error {
	return s.store.EnsureCollection(ctx, s.collection, s.embedder.Dimensions())
}

func renderConversation(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// summarize runs the scope's summarization prompt over the messages. An empty
// or NOTHING result means there is nothing novel to store.
func (s *Service) summarize(ctx context.Context, promptName string, messages []Message, extraVars map[string]string) (string, error) {
	tpl, err := s.registry.Get(ctx, promptName, 0, "latest")
	if err != nil {
		return "", err
	}
	vars := map[string]string{"conversation": renderConversation(messages)}
	for k, v := range extraVars {
		vars[k] = v
	}
	prompt, err := tpl.Compile(vars)
	if err != nil {
		return "", err
	}
	resp, err := s.provider.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, s.model)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" || strings.EqualFold(summary, "NOTHING") {
		return "", nil
	}
	return summary, nil
}

func (s *Service) add(ctx context.Context, promptName string, messages []Message, memoryType, scopeKey string, payload map[string]any, extraVars map[string]string) (int, error) {
	summary, err := s.summarize(ctx, promptName, messages, extraVars)
	if err != nil {
		return 0, err
	}
	if summary == "" {
		log.Debug().Str("scope_key", scopeKey).Msg("memory summarizer produced nothing, skipping write")
		return 0, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{summary})
	if err != nil {
		return 0, fmt.Errorf("embed memory: %w", err)
	}
	p := map[string]any{
		"memory_type": memoryType,
		"scope_key":   scopeKey,
		"memory":      summary,
		"created_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range payload {
		p[k] = v
	}
	err = s.store.Upsert(ctx, s.collection, []vectorstore.Point{{
		ID:      uuid.NewString(),
		Vector:  vecs[0],
		Payload: p,
	}})
	if err != nil {
		return 0, fmt.Errorf("upsert memory: %w", err)
	}
	return 1, nil
}

// AddDoc writes a document-session short-term memory.
func (s *Service) AddDoc(ctx context.Context, docID, userID int64, messages []Message) (int, error) {
	return s.add(ctx, "memory_doc_session", messages, TypeDocSession, DocKey(docID),
		map[string]any{"user_id": userID, "doc_id": docID}, nil)
}

// AddDocLong writes the 10-turn long-term summary for a document session.
func (s *Service) AddDocLong(ctx context.Context, docID, userID int64, messages []Message, turnRange string) (int, error) {
	return s.add(ctx, "memory_doc_session", messages, TypeDocSessionLong, DocKey(docID),
		map[string]any{"user_id": userID, "doc_id": docID, "turn_range": turnRange}, nil)
}

// AddGenChat writes a general-chat short-term memory.
func (s *Service) AddGenChat(ctx context.Context, genChatID, userID int64, messages []Message) (int, error) {
	return s.add(ctx, "memory_gen_chat_session", messages, TypeGenChat, GenChatKey(genChatID),
		map[string]any{"user_id": userID, "gen_chat_id": genChatID}, nil)
}

// AddGenChatLong writes the 10-turn long-term summary for a chat session.
func (s *Service) AddGenChatLong(ctx context.Context, genChatID, userID int64, messages []Message, turnRange string) (int, error) {
	return s.add(ctx, "memory_gen_chat_session", messages, TypeGenChatLong, GenChatKey(genChatID),
		map[string]any{"user_id": userID, "gen_chat_id": genChatID, "turn_range": turnRange}, nil)
}

// AddUser writes a permanent user-preference memory.
func (s *Service) AddUser(ctx context.Context, userID int64, messages []Message) (int, error) {
	return s.add(ctx, "memory_user_preference", messages, TypeUserPreference, UserKey(userID),
		map[string]any{"user_id": userID}, nil)
}

// AddBuyer writes a permanent counterparty memo.
func (s *Service) AddBuyer(ctx context.Context, userID int64, buyerName string, messages []Message) (int, error) {
	norm := NormalizeBuyer(buyerName)
	if norm == "" {
		return 0, fmt.Errorf("buyer name %q normalizes to empty", buyerName)
	}
	return s.add(ctx, "memory_buyer_memo", messages, TypeBuyerMemo, BuyerKey(userID, norm),
		map[string]any{"user_id": userID, "buyer_name": buyerName, "buyer_normalized": norm},
		map[string]string{"buyer_name": buyerName})
}

func itemFromResult(r vectorstore.Result) Item {
	it := Item{ID: r.ID, Score: r.Score}
	if v, ok := r.Payload["memory"].(string); ok {
		it.Memory = v
	}
	if v, ok := r.Payload["created_at"].(string); ok {
		it.CreatedAt = v
	}
	return it
}

// get searches the scope when a query is given. Without a query it scrolls up
// to 4×limit items of the scope and returns the newest limit of those by
// created_at; a scope holding more items than that may yield older items in
// place of newer ones.
func (s *Service) get(ctx context.Context, scopeKey, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 5
	}
	filter := vectorstore.Filter{"scope_key": scopeKey}
	if query != "" {
		vecs, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		results, err := s.store.Search(ctx, s.collection, vecs[0], limit, filter)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(results))
		for _, r := range results {
			items = append(items, itemFromResult(r))
		}
		return items, nil
	}

	results, err := s.store.Scroll(ctx, s.collection, filter, limit*4)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(results))
	for _, r := range results {
		items = append(items, itemFromResult(r))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt > items[j].CreatedAt })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Service) GetDoc(ctx context.Context, docID int64, query string, limit int) ([]Item, error) {
	return s.get(ctx, DocKey(docID), query, limit)
}

func (s *Service) GetGenChat(ctx context.Context, genChatID int64, query string, limit int) ([]Item, error) {
	return s.get(ctx, GenChatKey(genChatID), query, limit)
}

func (s *Service) GetUser(ctx context.Context, userID int64, query string, limit int) ([]Item, error) {
	return s.get(ctx, UserKey(userID), query, limit)
}

func (s *Service) GetBuyer(ctx context.Context, userID int64, buyerName, query string, limit int) ([]Item, error) {
	norm := NormalizeBuyer(buyerName)
	if norm == "" {
		return nil, fmt.Errorf("buyer name %q normalizes to empty", buyerName)
	}
	return s.get(ctx, BuyerKey(userID, norm), query, limit)
}

// DeleteDoc removes every item in the document's scope via the store's
// payload-filter delete.
func (s *Service) DeleteDoc(ctx context.Context, docID int64) error {
	return s.store.Delete(ctx, s.collection, vectorstore.Filter{"scope_key": DocKey(docID)})
}

// DeleteGenChat removes every item in the chat session's scope.
func (s *Service) DeleteGenChat(ctx context.Context, genChatID int64) error {
	return s.store.Delete(ctx, s.collection, vectorstore.Filter{"scope_key": GenChatKey(genChatID)})
}

// DeleteTrade cascades over the trade's documents. Partial success is
// reported, not failed.
func (s *Service) DeleteTrade(ctx context.Context, tradeID int64, docIDs []int64) (int, error) {
	deleted := 0
	var firstErr error
	for _, docID := range docIDs {
		if err := s.DeleteDoc(ctx, docID); err != nil {
			log.Warn().Err(err).Int64("trade_id", tradeID).Int64("doc_id", docID).Msg("trade memory delete failed for document")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted++
	}
	if deleted == 0 && firstErr != nil {
		return 0, firstErr
	}
	return deleted, nil
}

// SaveSmartOptions parameterizes SaveSmart.
type SaveSmartOptions struct {
	DocID     int64
	GenChatID int64
	BuyerName string
	Flags     SaveFlags
}

// SaveSmart runs the enabled scope writes in parallel. Individual failures
// are logged and reported as 0 for that scope; the aggregate never fails.
func (s *Service) SaveSmart(ctx context.Context, messages []Message, userID int64, opts SaveSmartOptions) SaveResult {
	var res SaveResult
	g, gctx := errgroup.WithContext(ctx)

	if opts.Flags.SaveDoc && (opts.DocID > 0 || opts.GenChatID > 0) {
		g.Go(func() error {
			var n int
			var err error
			if opts.DocID > 0 {
				n, err = s.AddDoc(gctx, opts.DocID, userID, messages)
			} else {
				n, err = s.AddGenChat(gctx, opts.GenChatID, userID, messages)
			}
			if err != nil {
				log.Warn().Err(err).Int64("user_id", userID).Msg("session memory save failed")
				return nil
			}
			res.Doc = n
			return nil
		})
	}
	if opts.Flags.SaveUser {
		g.Go(func() error {
			n, err := s.AddUser(gctx, userID, messages)
			if err != nil {
				log.Warn().Err(err).Int64("user_id", userID).Msg("user memory save failed")
				return nil
			}
			res.User = n
			return nil
		})
	}
	if opts.Flags.SaveBuyer && opts.BuyerName != "" {
		g.Go(func() error {
			n, err := s.AddBuyer(gctx, userID, opts.BuyerName, messages)
			if err != nil {
				log.Warn().Err(err).Int64("user_id", userID).Str("buyer", opts.BuyerName).Msg("buyer memory save failed")
				return nil
			}
			res.Buyer = n
			return nil
		})
	}

	_ = g.Wait()
	res.Total = res.User + res.Doc + res.Buyer
	return res
}

// BuildDocContext runs up to three scoped searches (k=3 each) in parallel and
// composes the human-readable summary. A failing sub-query never cancels its
// siblings; that scope comes back empty.
func (s *Service) BuildDocContext(ctx context.Context, docID, userID int64, query, buyerName string) Context {
	var out Context
	var g errgroup.Group

	g.Go(func() error {
		items, err := s.GetDoc(ctx, docID, query, 3)
		if err != nil {
			log.Warn().Err(err).Int64("doc_id", docID).Msg("doc memory search failed")
			return nil
		}
		out.Doc = items
		return nil
	})
	g.Go(func() error {
		items, err := s.GetUser(ctx, userID, query, 3)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("user memory search failed")
			return nil
		}
		out.User = items
		return nil
	})
	if buyerName != "" {
		g.Go(func() error {
			items, err := s.GetBuyer(ctx, userID, buyerName, query, 3)
			if err != nil {
				log.Warn().Err(err).Str("buyer", buyerName).Msg("buyer memory search failed")
				return nil
			}
			out.Buyer = items
			return nil
		})
	}

	_ = g.Wait()
	out.Summary = fmt.Sprintf("문서 이력 %d건, 사용자 선호 %d건, 거래처 메모 %d건",
		len(out.Doc), len(out.User), len(out.Buyer))
	return out
}

// BuildGenChatContext assembles the general-chat context. The chat scope is
// skipped entirely on the session's first message.
func (s *Service) BuildGenChatContext(ctx context.Context, genChatID, userID int64, query string, isFirstMessage bool) GenChatContext {
	var out GenChatContext
	var g errgroup.Group

	if !isFirstMessage {
		g.Go(func() error {
			items, err := s.GetGenChat(ctx, genChatID, query, 3)
			if err != nil {
				log.Warn().Err(err).Int64("gen_chat_id", genChatID).Msg("chat memory search failed")
				return nil
			}
			out.Chat = items
			return nil
		})
	}
	g.Go(func() error {
		items, err := s.GetUser(ctx, userID, query, 3)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("user memory search failed")
			return nil
		}
		out.User = items
		return nil
	})

	_ = g.Wait()
	out.Summary = fmt.Sprintf("대화 기록 %d건, 사용자 선호 %d건", len(out.Chat), len(out.User))
	return out
}

// Search is the cross-scope search backing the /api/memory/search endpoint.
func (s *Service) Search(ctx context.Context, query string, userID, docID int64, buyerName string, limit int) ([]Item, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}
	var items []Item
	if userID > 0 {
		found, err := s.GetUser(ctx, userID, query, limit)
		if err != nil {
			return nil, err
		}
		items = append(items, found...)
	}
	if docID > 0 {
		found, err := s.GetDoc(ctx, docID, query, limit)
		if err != nil {
			return nil, err
		}
		items = append(items, found...)
	}
	if buyerName != "" && userID > 0 {
		found, err := s.GetBuyer(ctx, userID, buyerName, query, limit)
		if err != nil {
			return nil, err
		}
		items = append(items, found...)
	}
	return items, nil
}
