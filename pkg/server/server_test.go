package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenVexAI/saipling/pkg/apply"
	"github.com/TenVexAI/saipling/pkg/costs"
	"github.com/TenVexAI/saipling/pkg/directives"
	"github.com/TenVexAI/saipling/pkg/richtext"
	"github.com/TenVexAI/saipling/pkg/skills"
	"github.com/TenVexAI/saipling/pkg/storage"
)

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	opts.Config = Config{Host: "localhost", Port: 8765}
	s, err := NewServer(opts)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		errMsg string
	}{
		{"valid", Config{Host: "localhost", Port: 8765}, ""},
		{"empty host", Config{Port: 8765}, "host cannot be empty"},
		{"port zero", Config{Host: "localhost"}, "port must be between 1 and 65535, got 0"},
		{"port too high", Config{Host: "localhost", Port: 70000}, "port must be between 1 and 65535, got 70000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.errMsg)
		})
	}

	_, err := NewServer(Options{})
	assert.ErrorContains(t, err, "invalid server configuration")
}

func TestCORS(t *testing.T) {
	s, err := NewServer(Options{Config: Config{Host: "localhost", Port: 8765, AllowedOrigins: []string{"http://localhost:5173"}}})
	require.NoError(t, err)

	request := func(method, path, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	t.Run("preflight from allowed origin", func(t *testing.T) {
		rec := request(http.MethodOptions, "/api/directives/apply", "http://localhost:5173")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("preflight from other origin", func(t *testing.T) {
		rec := request(http.MethodOptions, "/api/directives/apply", "https://evil.example")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("same origin and no origin", func(t *testing.T) {
		rec := request(http.MethodGet, "/api/schema/directive", "http://example.com")
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = request(http.MethodGet, "/api/schema/directive", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCrossSiteWriteRefused(t *testing.T) {
	store := storage.New(t.TempDir())
	s := newTestServer(t, Options{Store: store})
	body := `{"directives":[{"target":"book/intruder.md","action":"create","content":"written by another site"}]}`

	req := httptest.NewRequest(http.MethodPost, "/api/directives/apply", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/directives/apply", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	exists, err := store.Exists(context.Background(), "book/intruder.md")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExtractDirectives(t *testing.T) {
	s := newTestServer(t, Options{})
	text := "Here is the scene.\n\n```saipling-apply\ntarget: book/ch1.md\naction: create\n---\nThe tide came in.\n```\n\nDone."

	rec := do(t, s, http.MethodPost, "/api/directives/extract", TextRequest{Text: text})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ExtractResponse](t, rec)
	require.Len(t, resp.Directives, 1)
	assert.Equal(t, "book/ch1.md", resp.Directives[0].Target)
	assert.Equal(t, directives.ActionCreate, resp.Directives[0].Action)
	assert.NotContains(t, resp.Remaining, "saipling-apply")

	rec = do(t, s, http.MethodPost, "/api/directives/extract", TextRequest{Text: "plain"})
	resp = decodeBody[ExtractResponse](t, rec)
	assert.NotNil(t, resp.Directives)
	assert.Empty(t, resp.Directives)
}

func TestInvalidBody(t *testing.T) {
	s := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/draft/normalize", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "invalid request body", resp["error"])
	assert.Equal(t, false, resp["success"])
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/api/draft/normalize", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNormalize(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodPost, "/api/draft/normalize", TextRequest{Text: "```markdown\n# Chapter One\n\nRain.\n```"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# Chapter One\n\nRain.", decodeBody[NormalizeResponse](t, rec).Body)
}

func TestRichTextRoundTrip(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodPost, "/api/richtext/parse", ParseRequest{Markdown: "# Title\n\nSome **bold** words."})
	require.Equal(t, http.StatusOK, rec.Code)
	parsed := decodeBody[TreeResponse](t, rec)
	require.NotNil(t, parsed.Tree)
	assert.Equal(t, richtext.KindDoc, parsed.Tree.Type)
	assert.Equal(t, 4, parsed.Words)

	rec = do(t, s, http.MethodPost, "/api/richtext/render", RenderRequest{Tree: parsed.Tree})
	require.Equal(t, http.StatusOK, rec.Code)
	rendered := decodeBody[RenderResponse](t, rec)
	assert.Equal(t, "# Title\n\nSome **bold** words.", strings.TrimSpace(rendered.Markdown))
	assert.Contains(t, rendered.HTML, "<h1>Title</h1>")
	assert.Contains(t, rendered.HTML, "<strong>bold</strong>")

	rec = do(t, s, http.MethodPost, "/api/richtext/render", RenderRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseHTML(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodPost, "/api/richtext/parse", ParseRequest{HTML: "<h2>Harbour</h2><p>Boats <em>rock</em>.</p>"})
	require.Equal(t, http.StatusOK, rec.Code)
	parsed := decodeBody[TreeResponse](t, rec)
	require.NotEmpty(t, parsed.Tree.Content)
	assert.Equal(t, richtext.KindHeading, parsed.Tree.Content[0].Type)
	assert.Equal(t, 2, parsed.Tree.Content[0].Level)
}

func TestParseFrontmatter(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodPost, "/api/frontmatter/parse", TextRequest{Text: "---\nstatus: draft\nwords: 1200\n---\n\nBody."})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[FrontmatterResponse](t, rec)
	assert.Equal(t, "draft", resp.Metadata["status"])
	assert.Equal(t, float64(1200), resp.Metadata["words"])
	assert.Contains(t, resp.Body, "Body.")

	rec = do(t, s, http.MethodPost, "/api/frontmatter/parse", TextRequest{Text: "No header."})
	resp = decodeBody[FrontmatterResponse](t, rec)
	assert.NotNil(t, resp.Metadata)
	assert.Empty(t, resp.Metadata)
	assert.Equal(t, "No header.", resp.Body)
}

func TestDirectiveSchema(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/api/schema/directive", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	schema := decodeBody[map[string]any](t, rec)
	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	for _, field := range []string{"target", "action", "section", "content", "metadata", "form"} {
		assert.Contains(t, properties, field)
	}
	action := properties["action"].(map[string]any)
	assert.ElementsMatch(t, []any{"create", "replace", "append", "update_metadata"}, action["enum"])
}

func TestDirectivesNeedWorkspace(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodPost, "/api/directives/preview", PreviewRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/directives/apply", ApplyRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPreviewAndApply(t *testing.T) {
	store := storage.New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "book/overview.md", map[string]any{"status": "draft"}, "# Book\n\nOld.\n"))
	s := newTestServer(t, Options{Store: store})

	rec := do(t, s, http.MethodPost, "/api/directives/preview", PreviewRequest{Directive: directives.Directive{
		Target: "book/overview.md", Action: directives.ActionReplace, Content: "# Book\n\nNew.",
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	change := decodeBody[apply.Change](t, rec)
	assert.Contains(t, change.Diff, "-Old.")
	assert.Contains(t, change.Diff, "+New.")

	rec = do(t, s, http.MethodPost, "/api/directives/preview", PreviewRequest{Directive: directives.Directive{
		Target: directives.UnknownTarget, Action: directives.ActionCreate, Content: "x",
	}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/directives/preview", PreviewRequest{Directive: directives.Directive{
		Target: "missing.md", Action: directives.ActionUpdateMetadata, Content: "a: b",
	}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/directives/apply", ApplyRequest{Directives: []directives.Directive{
		{Target: "book/overview.md", Action: directives.ActionAppend, Content: "Epilogue."},
		{Target: "book/overview.md", Action: directives.ActionReplace, Section: "Missing", Content: "x"},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ApplyResponse](t, rec)
	require.Len(t, resp.Changes, 1)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "section not found")

	doc, err := store.Read(ctx, "book/overview.md")
	require.NoError(t, err)
	assert.Equal(t, "# Book\n\nOld.\n\nEpilogue.", doc.Body)
}

func TestCosts(t *testing.T) {
	ctx := context.Background()
	ledger, err := costs.OpenLedger(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	session := costs.NewSession()

	entry := costs.Entry{PlanID: "p1", Model: "claude-sonnet-4", InputTokens: 1000, OutputTokens: 100, Cost: 0.0045}
	require.NoError(t, costs.NewTee(session, ledger).AddCost(ctx, entry))

	s := newTestServer(t, Options{Ledger: ledger, Session: session})
	rec := do(t, s, http.MethodGet, "/api/costs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[CostsResponse](t, rec)
	assert.InDelta(t, 0.0045, resp.Session, 1e-9)
	assert.InDelta(t, 0.0045, resp.Project, 1e-9)
	require.Len(t, resp.Models, 1)
	assert.Equal(t, "claude-sonnet-4", resp.Models[0].Model)
	assert.Equal(t, 1, resp.Models[0].Generations)

	empty := newTestServer(t, Options{})
	resp = decodeBody[CostsResponse](t, do(t, empty, http.MethodGet, "/api/costs", nil))
	assert.Zero(t, resp.Project)
	assert.NotNil(t, resp.Models)
}

func TestListSkills(t *testing.T) {
	registry := skills.NewRegistry(
		&skills.Skill{Name: "scene-draft", Description: "Draft a scene", Builtin: true},
		&skills.Skill{Name: "blurb", Description: "Back cover copy", Model: "claude-sonnet-4", Output: "book/blurb.md"},
	)
	s := newTestServer(t, Options{Skills: registry})

	rec := do(t, s, http.MethodGet, "/api/skills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]SkillInfo](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "blurb", list[0].Name)
	assert.Equal(t, "book/blurb.md", list[0].Output)
	assert.True(t, list[1].Builtin)
}
