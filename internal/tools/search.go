package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"tradeassist/internal/llm"
	"tradeassist/internal/vectorstore"
)

// Passage is one retrieved snippet handed back to the agent.
type Passage struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score,omitempty"`
}

type searchResult struct {
	OK      bool      `json:"ok"`
	Results []Passage `json:"results"`
}

// KnowledgeSearchTool searches the shared trade-knowledge collection.
type KnowledgeSearchTool struct {
	Store      vectorstore.Store
	Embedder   llm.Embedder
	Collection string
}

func (t *KnowledgeSearchTool) Name() string { return "search_trade_documents" }

func (t *KnowledgeSearchTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "무역 지식 데이터베이스에서 관련 문서를 검색한다 (Incoterms, CISG, 무역사기, 클레임, 인증).",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "검색 질의"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *KnowledgeSearchTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid search_trade_documents args: %w", err)
	}
	passages, err := vectorSearch(ctx, t.Store, t.Embedder, t.Collection, args.Query, nil)
	if err != nil {
		return nil, err
	}
	return searchResult{OK: true, Results: passages}, nil
}

// UserDocumentSearchTool searches a single uploaded document's chunks.
type UserDocumentSearchTool struct {
	Store      vectorstore.Store
	Embedder   llm.Embedder
	Collection string
}

func (t *UserDocumentSearchTool) Name() string { return "search_user_document" }

func (t *UserDocumentSearchTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "현재 업로드된 문서에서 관련 내용을 검색한다.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"document_id": map[string]any{"type": "integer", "description": "문서 ID"},
				"query":       map[string]any{"type": "string", "description": "검색 질의"},
			},
			"required": []string{"document_id", "query"},
		},
	}
}

func (t *UserDocumentSearchTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		DocumentID int64  `json:"document_id"`
		Query      string `json:"query"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid search_user_document args: %w", err)
	}
	filter := vectorstore.Filter{"doc_id": args.DocumentID}
	passages, err := vectorSearch(ctx, t.Store, t.Embedder, t.Collection, args.Query, filter)
	if err != nil {
		return nil, err
	}
	return searchResult{OK: true, Results: passages}, nil
}

func vectorSearch(ctx context.Context, store vectorstore.Store, embedder llm.Embedder, collection, query string, filter vectorstore.Filter) ([]Passage, error) {
	vecs, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := store.Search(ctx, collection, vecs[0], 5, filter)
	if err != nil {
		return nil, err
	}
	passages := make([]Passage, 0, len(results))
	for _, r := range results {
		p := Passage{Score: r.Score}
		if v, ok := r.Payload["text"].(string); ok {
			p.Text = v
		}
		if v, ok := r.Payload["source_object_key"].(string); ok {
			p.Source = v
		} else if v, ok := r.Payload["source"].(string); ok {
			p.Source = v
		}
		if page, ok := r.Payload["page"].(int64); ok {
			p.Source = fmt.Sprintf("%s#page=%d", p.Source, page)
		}
		passages = append(passages, p)
	}
	return passages, nil
}
