// Package server exposes saipling's document tooling over a local HTTP API
// for the editor: directive extraction and application, draft
// normalization, rich-text conversion, metadata parsing and cost totals.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/TenVexAI/saipling/pkg/apply"
	"github.com/TenVexAI/saipling/pkg/costs"
	"github.com/TenVexAI/saipling/pkg/directives"
	"github.com/TenVexAI/saipling/pkg/draft"
	"github.com/TenVexAI/saipling/pkg/frontmatter"
	"github.com/TenVexAI/saipling/pkg/logger"
	"github.com/TenVexAI/saipling/pkg/presenter"
	"github.com/TenVexAI/saipling/pkg/richtext"
	"github.com/TenVexAI/saipling/pkg/skills"
	"github.com/TenVexAI/saipling/pkg/storage"
)

const maxBodyBytes = 4 << 20

// Config holds the listen address and the browser origins allowed to call
// the API. Requests from the server's own origin are always allowed.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// Validate checks the listen address.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// CostSource reports persisted spend.
type CostSource interface {
	CurrentTotal(ctx context.Context) (float64, error)
	Summary(ctx context.Context) ([]costs.ModelSummary, error)
}

// Options are the server's collaborators. Store, Ledger, Session and
// Skills are optional; endpoints needing a missing one answer 503.
type Options struct {
	Config  Config
	Store   apply.Store
	Ledger  CostSource
	Session costs.Accumulator
	Skills  *skills.Registry
}

// Server is the local HTTP bridge.
type Server struct {
	router *mux.Router
	opts   Options
	server *http.Server
}

// NewServer validates opts and registers the routes.
func NewServer(opts Options) (*Server, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	s := &Server{router: mux.NewRouter(), opts: opts}
	s.setupRoutes()
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/directives/extract", s.handleExtractDirectives).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/directives/preview", s.handlePreviewDirective).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/directives/apply", s.handleApplyDirectives).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/draft/normalize", s.handleNormalize).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/richtext/parse", s.handleParseRichText).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/richtext/render", s.handleRenderRichText).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/frontmatter/parse", s.handleParseFrontmatter).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/schema/directive", s.handleDirectiveSchema).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/costs", s.handleCosts).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/skills", s.handleListSkills).Methods(http.MethodGet, http.MethodOptions)

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// corsMiddleware answers preflights and refuses requests whose Origin is
// neither the server itself nor listed in AllowedOrigins. Requests without
// an Origin header (curl, the CLI) pass.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !s.originAllowed(r, origin) {
				s.writeErrorResponse(w, http.StatusForbidden, "origin not allowed", nil)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(r *http.Request, origin string) bool {
	if origin == "http://"+r.Host {
		return true
	}
	return slices.Contains(s.opts.Config.AllowedOrigins, origin)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// TextRequest carries a document or model reply.
type TextRequest struct {
	Text string `json:"text"`
}

// ExtractResponse is returned by POST /api/directives/extract.
type ExtractResponse struct {
	Directives []directives.Directive `json:"directives"`
	Remaining  string                 `json:"remaining"`
}

func (s *Server) handleExtractDirectives(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !s.decode(w, r, &req) {
		return
	}
	found, remaining := directives.Extract(req.Text)
	if found == nil {
		found = []directives.Directive{}
	}
	s.writeJSONResponse(w, ExtractResponse{Directives: found, Remaining: remaining})
}

// PreviewRequest asks for the effect of one directive.
type PreviewRequest struct {
	Directive directives.Directive `json:"directive"`
}

func (s *Server) handlePreviewDirective(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "no workspace configured", nil)
		return
	}
	var req PreviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	change, err := apply.Preview(r.Context(), s.opts.Store, req.Directive)
	if err != nil {
		s.writeErrorResponse(w, directiveStatus(err), err.Error(), nil)
		return
	}
	s.writeJSONResponse(w, change)
}

// ApplyRequest lists directives to write.
type ApplyRequest struct {
	Directives []directives.Directive `json:"directives"`
}

// ApplyResponse reports applied changes and per-directive failures.
type ApplyResponse struct {
	Changes []apply.Change `json:"changes"`
	Errors  []string       `json:"errors,omitempty"`
}

func (s *Server) handleApplyDirectives(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "no workspace configured", nil)
		return
	}
	var req ApplyRequest
	if !s.decode(w, r, &req) {
		return
	}
	changes, err := apply.Apply(r.Context(), s.opts.Store, req.Directives)
	resp := ApplyResponse{Changes: changes}
	if err != nil {
		resp.Errors = flattenErrors(err)
	}
	s.writeJSONResponse(w, resp)
}

// NormalizeResponse is returned by POST /api/draft/normalize.
type NormalizeResponse struct {
	Body string `json:"body"`
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeJSONResponse(w, NormalizeResponse{Body: draft.Normalize(req.Text)})
}

// ParseRequest carries markdown, or HTML pasted into the editor.
type ParseRequest struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html,omitempty"`
}

// TreeResponse is returned by POST /api/richtext/parse.
type TreeResponse struct {
	Tree  *richtext.Node `json:"tree"`
	Words int            `json:"words"`
}

func (s *Server) handleParseRichText(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !s.decode(w, r, &req) {
		return
	}
	tree := richtext.Parse(req.Markdown)
	if req.HTML != "" {
		var err error
		if tree, err = richtext.FromHTML(req.HTML); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "failed to import html", err)
			return
		}
	}
	s.writeJSONResponse(w, TreeResponse{Tree: tree, Words: richtext.WordCount(tree)})
}

// RenderRequest carries an editor tree.
type RenderRequest struct {
	Tree *richtext.Node `json:"tree"`
}

// RenderResponse is returned by POST /api/richtext/render.
type RenderResponse struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

func (s *Server) handleRenderRichText(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Tree == nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "tree is required", nil)
		return
	}
	markdown := richtext.Render(req.Tree)
	html, err := richtext.ToHTML(markdown)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to render html", err)
		return
	}
	s.writeJSONResponse(w, RenderResponse{Markdown: markdown, HTML: html})
}

// FrontmatterResponse is returned by POST /api/frontmatter/parse.
type FrontmatterResponse struct {
	Metadata map[string]any `json:"metadata"`
	Body     string         `json:"body"`
}

func (s *Server) handleParseFrontmatter(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !s.decode(w, r, &req) {
		return
	}
	metadata, body := frontmatter.Parse(req.Text)
	if metadata == nil {
		metadata = map[string]any{}
	}
	s.writeJSONResponse(w, FrontmatterResponse{Metadata: metadata, Body: body})
}

// DirectiveSchema describes the directive JSON shape.
func DirectiveSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&directives.Directive{})
}

func (s *Server) handleDirectiveSchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, DirectiveSchema())
}

// CostsResponse is returned by GET /api/costs.
type CostsResponse struct {
	Session float64              `json:"session"`
	Project float64              `json:"project"`
	Models  []costs.ModelSummary `json:"models"`
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := CostsResponse{Models: []costs.ModelSummary{}}

	if s.opts.Session != nil {
		total, err := s.opts.Session.CurrentTotal(ctx)
		if err != nil {
			s.writeErrorResponse(w, http.StatusInternalServerError, "failed to read session costs", err)
			return
		}
		resp.Session = total
	}
	if s.opts.Ledger != nil {
		total, err := s.opts.Ledger.CurrentTotal(ctx)
		if err != nil {
			s.writeErrorResponse(w, http.StatusInternalServerError, "failed to read project costs", err)
			return
		}
		models, err := s.opts.Ledger.Summary(ctx)
		if err != nil {
			s.writeErrorResponse(w, http.StatusInternalServerError, "failed to summarize project costs", err)
			return
		}
		resp.Project = total
		if models != nil {
			resp.Models = models
		}
	}
	s.writeJSONResponse(w, resp)
}

// SkillInfo describes an available skill.
type SkillInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Model       string `json:"model,omitempty"`
	Output      string `json:"output,omitempty"`
	Builtin     bool   `json:"builtin"`
}

func (s *Server) handleListSkills(w http.ResponseWriter, _ *http.Request) {
	list := []SkillInfo{}
	if s.opts.Skills != nil {
		for _, skill := range s.opts.Skills.All() {
			list = append(list, SkillInfo{
				Name:        skill.Name,
				Description: skill.Description,
				Model:       skill.Model,
				Output:      skill.Output,
				Builtin:     skill.Builtin,
			})
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	s.writeJSONResponse(w, list)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "request body must be application/json", nil)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func flattenErrors(err error) []string {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(merr.Errors))
	for _, e := range merr.Errors {
		out = append(out, e.Error())
	}
	return out
}

func directiveStatus(err error) int {
	switch {
	case errors.Is(err, apply.ErrDisplayOnly), errors.Is(err, apply.ErrSectionNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrOutsideRoot):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.G(context.TODO()).WithError(err).Error(message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode error response")
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.opts.Config.Host, s.opts.Config.Port)
	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	presenter.Info(fmt.Sprintf("Serving saipling API on http://%s", address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrapf(err, "failed to serve on %s", address)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Stop closes the listener immediately.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
