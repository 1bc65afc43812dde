package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// WebSearchTool queries a SearXNG-compatible JSON endpoint.
type WebSearchTool struct {
	BaseURL string
	Client  *http.Client
}

func NewWebSearchTool(baseURL string) *WebSearchTool {
	return &WebSearchTool{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "search_web" }

func (t *WebSearchTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "최신 뉴스, 실시간 시장 정보, 최신 규제를 웹에서 검색한다.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "검색 질의"},
			},
			"required": []string{"query"},
		},
	}
}

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *WebSearchTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid search_web args: %w", err)
	}

	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("bad web search URL: %w", err)
	}
	q := u.Query()
	q.Set("q", args.Query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned HTTP %d", resp.StatusCode)
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode web search response: %w", err)
	}

	passages := make([]Passage, 0, 5)
	for _, r := range parsed.Results {
		text := r.Content
		if text == "" {
			text = r.Title
		}
		passages = append(passages, Passage{Text: text, Source: r.URL})
		if len(passages) == 5 {
			break
		}
	}
	return searchResult{OK: true, Results: passages}, nil
}
