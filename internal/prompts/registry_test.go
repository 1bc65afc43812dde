package prompts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeassist/internal/config"
)

func testRegistry(serverURL string) *Registry {
	return NewRegistry(config.PromptsConfig{
		PublicKey: "pk",
		SecretKey: "sk",
		BaseURL:   serverURL,
		Label:     "production",
	})
}

func TestGetCachesRemoteTemplate(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "pk", user)
		assert.Equal(t, "sk", pass)
		assert.Equal(t, "/api/public/v2/prompts/trade_assistant_v1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt": "remote text", "version": 3})
	}))
	defer srv.Close()

	r := testRegistry(srv.URL)
	ctx := context.Background()

	tpl, err := r.Get(ctx, "trade_assistant_v1", 0, "production")
	require.NoError(t, err)
	assert.Equal(t, "remote text", tpl.Text)
	assert.Equal(t, 3, tpl.Version)

	_, err = r.Get(ctx, "trade_assistant_v1", 0, "production")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second hit must come from cache")

	r.ClearCache()
	_, err = r.Get(ctx, "trade_assistant_v1", 0, "production")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestGetFallsBackToBundled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	r := testRegistry(srv.URL)

	tpl, err := r.Get(context.Background(), "trade_assistant_v1", 0, "production")
	require.NoError(t, err)
	assert.NotEmpty(t, tpl.Text)

	// The fallback is not cached: once the remote recovers it is used.
	srv.Close()
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt": "recovered", "version": 9})
	}))
	defer srv2.Close()
	r.cfg.BaseURL = srv2.URL

	tpl, err = r.Get(context.Background(), "trade_assistant_v1", 0, "production")
	require.NoError(t, err)
	assert.Equal(t, "recovered", tpl.Text)
}

func TestGetWithoutKeysServesBundled(t *testing.T) {
	r := NewRegistry(config.PromptsConfig{})
	tpl, err := r.Get(context.Background(), "writing_assistant_v1", 0, "")
	require.NoError(t, err)
	assert.Contains(t, tpl.Text, "{{document_content}}")
}

func TestGetUnknownTemplate(t *testing.T) {
	r := NewRegistry(config.PromptsConfig{})
	_, err := r.Get(context.Background(), "no_such_prompt", 0, "")
	assert.Error(t, err)
}

func TestCompile(t *testing.T) {
	tpl := Template{Name: "t", Text: "doc {{document_id}} named {{document_name}}"}

	out, err := tpl.Compile(map[string]string{"document_id": "42", "document_name": "contract.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "doc 42 named contract.pdf", out)

	_, err = tpl.Compile(map[string]string{"document_id": "42"})
	assert.ErrorIs(t, err, ErrConfig)

	out, err = Template{Name: "t", Text: "no variables"}.Compile(nil)
	require.NoError(t, err)
	assert.Equal(t, "no variables", out)
}
