package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"golang.org/x/time/rate"

	"github.com/raysh454/reconcile/internal/app"
	"github.com/raysh454/reconcile/internal/conflict"
	"github.com/raysh454/reconcile/internal/logging"
	"github.com/raysh454/reconcile/internal/metrics"
	"github.com/raysh454/reconcile/internal/store"
	"github.com/raysh454/reconcile/internal/textdiff"
)

// Server is the HTTP + WebSocket API surface for the collaboration service.
type Server struct {
	cfg      Config
	service  *app.Service
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
	validate *validator.Validate
	limiter  *rateLimiter
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics on m and serves g at /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// NewServer creates a Server in front of svc.
func NewServer(cfg Config, svc *app.Service, logger logging.Logger, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: nil service provided")
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("server")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	s := &Server{
		cfg:      cfg,
		service:  svc,
		router:   chi.NewRouter(),
		logger:   logger,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			// Any origin may subscribe; there is no authentication to protect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.instrument)
	r.Use(s.rateLimit)

	r.Post("/diff", s.handleDiff)
	r.Post("/merge", s.handleMerge)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.handleCreateDocument)
		r.Get("/", s.handleListDocuments)
		r.Route("/{doc}", func(r chi.Router) {
			r.Get("/", s.handleGetDocument)
			r.Get("/versions", s.handleListVersions)
			r.Get("/versions/{version}", s.handleGetVersion)
			r.Get("/diff", s.handleDiffVersions)
			r.Post("/edits", s.handleSubmitEdit)
			r.Post("/edits/preview", s.handlePreviewEdit)
			r.Get("/conflicts", s.handleListConflicts)
		})
	})

	r.Get("/conflicts/{id}", s.handleGetConflict)
	r.Post("/conflicts/{id}/resolve", s.handleResolveConflict)

	// WebSocket for document events
	r.Get("/ws/documents/{doc}", s.handleDocumentWS)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// CORS preflight
		if r.Method == http.MethodOptions {
			s.optionsHandler("GET, POST")(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// instrument logs every request and records its status and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.HTTPRequest(r.Method, route, status, elapsed)

		fields := []logging.Field{
			{Key: "method", Value: r.Method},
			{Key: "path", Value: r.URL.Path},
			{Key: "route", Value: route},
			{Key: "status", Value: status},
			{Key: "bytes", Value: ww.BytesWritten()},
			{Key: "duration_ms", Value: elapsed.Milliseconds()},
			{Key: "request_id", Value: middleware.GetReqID(r.Context())},
		}
		if q := r.URL.RawQuery; q != "" {
			fields = append(fields, logging.Field{Key: "query", Value: q})
		}
		s.logger.Info("http_request", fields...)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "host:" + host
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decode reads a JSON body into v and validates it. It writes the 400 response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Warn("decoding request body", logging.Field{Key: "path", Value: r.URL.Path}, logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, app.ErrDocumentNotFound),
		errors.Is(err, app.ErrVersionNotFound),
		errors.Is(err, app.ErrConflictNotFound):
		return http.StatusNotFound
	case errors.Is(err, conflict.ErrInvalidArgument),
		errors.Is(err, app.ErrInvalidEdit),
		errors.Is(err, textdiff.ErrUnknownGranularity):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAlreadyResolved),
		errors.Is(err, store.ErrStaleParent):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op, logging.Field{Key: "error", Value: err.Error()})
	} else {
		s.logger.Warn(op, logging.Field{Key: "error", Value: err.Error()})
	}
	writeError(w, status, err.Error())
}

// --- HTTP handlers ---

// Stateless

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	var body DiffRequest
	if !s.decode(w, r, &body) {
		return
	}
	g, err := textdiff.ParseGranularity(body.Granularity)
	if err != nil {
		s.fail(w, "parsing granularity", err)
		return
	}

	res, err := s.service.DiffText(body.Old, body.New, app.DiffOptions{Granularity: g, StripHTML: body.StripHTML})
	if err != nil {
		s.fail(w, "diffing texts", err)
		return
	}
	// With strip_html the segments describe the extracted text, not the request bodies.
	resp, err := render(res, body.Format, body.Context, textdiff.OldText(res.Segments), textdiff.NewText(res.Segments))
	if err != nil {
		s.fail(w, "rendering diff", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// render adds the requested rendering to a diff result. Unified output is computed
// from the texts by lines, whatever the granularity of the segments.
func render(res textdiff.Result, format string, context *int, oldText, newText string) (*DiffResponse, error) {
	resp := &DiffResponse{Result: res}
	switch format {
	case FormatUnified:
		n := textdiff.DefaultContext
		if context != nil {
			n = *context
		}
		out, err := textdiff.Unified("a", "b", oldText, newText, n)
		if err != nil {
			return nil, err
		}
		resp.Unified = out
	case FormatHTML:
		resp.HTML = textdiff.RenderHTML(res.Segments)
	}
	return resp, nil
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var body MergeRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, c := s.service.Merge(body.Base, body.A, body.B)
	writeJSON(w, http.StatusOK, MergeResponse{MergeResult: res, Conflict: c})
}

// Documents

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body CreateDocumentRequest
	if !s.decode(w, r, &body) {
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), body.Title, body.Content, body.UserID, body.UserName)
	if err != nil {
		s.fail(w, "creating document", err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.service.ListDocuments(r.Context())
	if err != nil {
		s.fail(w, "listing documents", err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.GetDocument(r.Context(), chi.URLParam(r, "doc"))
	if err != nil {
		s.fail(w, "getting document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}
	versions, err := s.service.ListVersions(r.Context(), chi.URLParam(r, "doc"), limit)
	if err != nil {
		s.fail(w, "listing versions", err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.GetVersion(r.Context(), chi.URLParam(r, "doc"), chi.URLParam(r, "version"))
	if err != nil {
		s.fail(w, "getting version", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDiffVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	g, err := textdiff.ParseGranularity(q.Get("granularity"))
	if err != nil {
		s.fail(w, "parsing granularity", err)
		return
	}
	format := q.Get("format")
	if format != "" && format != FormatSegments && format != FormatUnified && format != FormatHTML {
		writeError(w, http.StatusBadRequest, "unknown format "+strconv.Quote(format))
		return
	}

	docID := chi.URLParam(r, "doc")
	d, err := s.service.Diff(r.Context(), docID, q.Get("base"), q.Get("head"), app.DiffOptions{Granularity: g})
	if err != nil {
		s.fail(w, "diffing versions", err)
		return
	}

	var oldText, newText string
	if format == FormatUnified {
		newText = textdiff.NewText(d.Segments)
		oldText = textdiff.OldText(d.Segments)
	}
	resp, err := render(d.Result, format, nil, oldText, newText)
	if err != nil {
		s.fail(w, "rendering diff", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		DocumentID    string `json:"document_id"`
		BaseVersionID string `json:"base_version_id,omitempty"`
		HeadVersionID string `json:"head_version_id"`
		*DiffResponse
	}{d.DocumentID, d.BaseVersionID, d.HeadVersionID, resp})
}

// Edits

func (s *Server) handleSubmitEdit(w http.ResponseWriter, r *http.Request) {
	var body app.EditRequest
	if !s.decode(w, r, &body) {
		return
	}
	out, err := s.service.SubmitEdit(r.Context(), chi.URLParam(r, "doc"), body)
	if err != nil {
		s.fail(w, "submitting edit", err)
		return
	}

	status := http.StatusOK
	switch out.Status {
	case app.EditCommitted:
		status = http.StatusCreated
	case app.EditConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, out)
}

func (s *Server) handlePreviewEdit(w http.ResponseWriter, r *http.Request) {
	var body app.EditRequest
	if !s.decode(w, r, &body) {
		return
	}
	prev, err := s.service.PreviewEdit(r.Context(), chi.URLParam(r, "doc"), body)
	if err != nil {
		s.fail(w, "previewing edit", err)
		return
	}
	writeJSON(w, http.StatusOK, prev)
}

// Conflicts

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	openOnly := true
	switch st := r.URL.Query().Get("status"); st {
	case "", "open":
	case "all":
		openOnly = false
	default:
		writeError(w, http.StatusBadRequest, "status must be open or all")
		return
	}
	cs, err := s.service.ListConflicts(r.Context(), chi.URLParam(r, "doc"), openOnly)
	if err != nil {
		s.fail(w, "listing conflicts", err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetConflict(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "getting conflict", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var body conflict.ResolveRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.ResolvedBy == "" {
		body.ResolvedBy = r.Header.Get("X-User-ID")
	}
	out, err := s.service.ResolveConflict(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, "resolving conflict", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// WebSockets

const wsWriteTimeout = 10 * time.Second

func (s *Server) handleDocumentWS(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc")
	doc, err := s.service.GetDocument(r.Context(), docID)
	if err != nil {
		s.fail(w, "opening document stream", err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	sub := s.service.Hub().Subscribe(docID)
	defer sub.Close()

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}

	if err := write(WSMessage{Type: WSSnapshot, Document: doc}); err != nil {
		return
	}
	s.logger.Info("document stream opened", logging.Field{Key: "document_id", Value: docID}, logging.Field{Key: "subscription", Value: sub.ID})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := write(s.handleWSMessage(r, docID, msg)); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := write(ev); err != nil {
				return
			}
		case <-done:
			s.logger.Info("document stream closed", logging.Field{Key: "document_id", Value: docID}, logging.Field{Key: "subscription", Value: sub.ID})
			return
		}
	}
}

func (s *Server) handleWSMessage(r *http.Request, docID string, msg WSMessage) WSMessage {
	if msg.Type != WSEdit || msg.Edit == nil {
		return WSMessage{Type: WSError, Error: "expected an edit message"}
	}
	if err := s.validate.Struct(msg.Edit); err != nil {
		return WSMessage{Type: WSError, Error: err.Error()}
	}
	out, err := s.service.SubmitEdit(r.Context(), docID, *msg.Edit)
	if err != nil {
		return WSMessage{Type: WSError, Error: err.Error()}
	}
	return WSMessage{Type: WSEditResult, Outcome: out}
}

// rateLimiter keeps one token bucket per client.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

const maxTrackedClients = 10000

func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Bound memory: forget every client once too many are tracked.
	if len(rl.limiters) >= maxTrackedClients {
		rl.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	return l.Allow()
}
