// Package prompts fetches versioned prompt templates from the registry
// service, with a process-lifetime cache and bundled fallbacks.
package prompts

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tradeassist/internal/config"
)

// ErrConfig marks configuration-level failures: a template variable left
// unresolved, or a registry call attempted without a key pair.
var ErrConfig = errors.New("prompt configuration error")

//go:embed templates/*.txt
var bundled embed.FS

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Template is a compiled-capable prompt template.
type Template struct {
	Name    string
	Version int
	Text    string
}

// Compile substitutes {{variable}} placeholders. A placeholder with no
// matching variable fails with ErrConfig.
func (t Template) Compile(vars map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(t.Text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: template %q has unresolved variables %v", ErrConfig, t.Name, missing)
	}
	return out, nil
}

// Registry resolves templates by (name, version|label). Remote results are
// cached for the process lifetime; bundled fallbacks are not cached so a
// later remote recovery is picked up.
type Registry struct {
	cfg    config.PromptsConfig
	client *http.Client

	mu    sync.RWMutex
	cache map[string]Template
}

func NewRegistry(cfg config.PromptsConfig) *Registry {
	return &Registry{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  make(map[string]Template),
	}
}

func cacheKey(name string, version int, label string) string {
	if version > 0 {
		return name + ":v" + strconv.Itoa(version)
	}
	return name + ":" + label
}

// Get returns the template for name. version > 0 pins an exact version;
// otherwise label selects one ("latest" when empty). On remote failure the
// bundled template of the same name is served.
func (r *Registry) Get(ctx context.Context, name string, version int, label string) (Template, error) {
	if label == "" {
		label = "latest"
	}
	key := cacheKey(name, version, label)

	r.mu.RLock()
	t, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := r.fetch(ctx, name, version, label)
	if err != nil {
		log.Warn().Err(err).Str("prompt", name).Msg("prompt registry unavailable, using bundled template")
		return r.bundled(name)
	}

	r.mu.Lock()
	r.cache[key] = t
	r.mu.Unlock()
	return t, nil
}

type promptResponse struct {
	Prompt  string `json:"prompt"`
	Version int    `json:"version"`
}

func (r *Registry) fetch(ctx context.Context, name string, version int, label string) (Template, error) {
	if !r.cfg.Enabled() {
		return Template{}, fmt.Errorf("%w: registry key pair not configured", ErrConfig)
	}
	u := fmt.Sprintf("%s/api/public/v2/prompts/%s", strings.TrimSuffix(r.cfg.BaseURL, "/"), url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Template{}, err
	}
	q := req.URL.Query()
	if version > 0 {
		q.Set("version", strconv.Itoa(version))
	} else {
		q.Set("label", label)
	}
	req.URL.RawQuery = q.Encode()
	req.SetBasicAuth(r.cfg.PublicKey, r.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Template{}, fmt.Errorf("fetch prompt %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Template{}, fmt.Errorf("fetch prompt %s: HTTP %d", name, resp.StatusCode)
	}
	var pr promptResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Template{}, fmt.Errorf("decode prompt %s: %w", name, err)
	}
	log.Info().Str("prompt", name).Int("version", pr.Version).Msg("prompt loaded from registry")
	return Template{Name: name, Version: pr.Version, Text: pr.Prompt}, nil
}

func (r *Registry) bundled(name string) (Template, error) {
	data, err := bundled.ReadFile("templates/" + name + ".txt")
	if err != nil {
		return Template{}, fmt.Errorf("no bundled template for %q: %w", name, err)
	}
	return Template{Name: name, Text: string(data)}, nil
}

// ClearCache drops all cached templates so updated registry versions load on
// next use.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]Template)
	r.mu.Unlock()
}
