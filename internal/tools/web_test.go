package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSearchToolParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "incoterms 2020", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Incoterms 2020","url":"https://example.com/1","content":"Updated rules"},
			{"title":"FOB","url":"https://example.com/2","content":""}
		]}`))
	}))
	defer srv.Close()

	tool := NewWebSearchTool(srv.URL)
	res, err := tool.Call(context.Background(), json.RawMessage(`{"query":"incoterms 2020"}`))
	require.NoError(t, err)

	sr, ok := res.(searchResult)
	require.True(t, ok)
	assert.True(t, sr.OK)
	require.Len(t, sr.Results, 2)
	assert.Equal(t, "Updated rules", sr.Results[0].Text)
	assert.Equal(t, "https://example.com/1", sr.Results[0].Source)
	// Empty content falls back to the title.
	assert.Equal(t, "FOB", sr.Results[1].Text)
}

func TestWebSearchToolServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tool := NewWebSearchTool(srv.URL)
	_, err := tool.Call(context.Background(), json.RawMessage(`{"query":"x"}`))
	assert.Error(t, err)
}

func TestDispatchFoldsErrorsIntoWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ts := []Tool{NewWebSearchTool(srv.URL)}
	payload := Dispatch(context.Background(), ts, "search_web", json.RawMessage(`{"query":"x"}`))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, false, decoded["ok"])
	assert.NotEmpty(t, decoded["warning"])
}

func TestDispatchUnknownTool(t *testing.T) {
	payload := Dispatch(context.Background(), nil, "nope", json.RawMessage(`{}`))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, false, decoded["ok"])
}

func TestSchemas(t *testing.T) {
	tool := NewWebSearchTool("http://localhost")
	schemas := Schemas([]Tool{tool})
	require.Len(t, schemas, 1)
	assert.Equal(t, "search_web", schemas[0].Name)
	assert.NotEmpty(t, schemas[0].Description)
	assert.Equal(t, "object", schemas[0].Parameters["type"])
}
