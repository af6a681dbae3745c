package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raysh454/reconcile/internal/app"
	"github.com/raysh454/reconcile/internal/metrics"
	"github.com/raysh454/reconcile/internal/server"
	"github.com/raysh454/reconcile/internal/store"
	"github.com/raysh454/reconcile/internal/testutil"
)

func newTestServer(t *testing.T, mutate ...func(*server.Config)) *server.Server {
	t.Helper()

	logger := &testutil.DummyLogger{}
	st, err := store.Open(context.Background(), store.DefaultConfig(t.TempDir()), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc, err := app.NewService(app.DefaultConfig(), st, logger, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)

	cfg := server.DefaultConfig()
	cfg.ListenAddr = ":0"
	for _, fn := range mutate {
		fn(&cfg)
	}
	s, err := server.NewServer(cfg, svc, logger, server.WithMetrics(m, reg))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

type docResponse struct {
	ID            string `json:"id"`
	HeadVersionID string `json:"head_version_id"`
	Head          struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	} `json:"head"`
}

func createDocument(t *testing.T, s http.Handler, content string) docResponse {
	t.Helper()
	rec := doJSON(t, s, "POST", "/documents", mustJSON(t, map[string]string{
		"title": "notes", "content": content, "user_id": "owner",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var doc docResponse
	decodeJSON(t, rec, &doc)
	return doc
}

func submitEdit(t *testing.T, s http.Handler, docID string, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, s, "POST", "/documents/"+docID+"/edits", mustJSON(t, body))
}

// ─── CORS ──────────────────────────────────────────────────────────────

func TestServer_CORS_HeaderPresent(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s, "GET", "/documents", "")

	origin := rec.Header().Get("Access-Control-Allow-Origin")
	if origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}
}

func TestServer_OptionsPreflight(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s, "OPTIONS", "/documents/abc/edits", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Allow-Methods header on OPTIONS")
	}
}

// ─── Stateless ─────────────────────────────────────────────────────────

func TestServer_Diff(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/diff", `{"old":"The quick fox","new":"The quick brown fox"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Segments []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"segments"`
		Stats struct {
			Additions int `json:"additions"`
			Deletions int `json:"deletions"`
		} `json:"stats"`
		Engine string `json:"engine"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Segments) != 3 || resp.Segments[1].Type != "insert" || resp.Segments[1].Text != "brown " {
		t.Errorf("unexpected segments: %+v", resp.Segments)
	}
	if resp.Stats.Additions != 6 || resp.Stats.Deletions != 0 {
		t.Errorf("unexpected stats: %+v", resp.Stats)
	}
	if resp.Engine != "lcs" {
		t.Errorf("expected lcs engine, got %q", resp.Engine)
	}
}

func TestServer_Diff_Formats(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/diff", `{"old":"a\nb\n","new":"a\nc\n","format":"unified","granularity":"line"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	unified, _ := resp["unified"].(string)
	if !strings.Contains(unified, "-b\n+c\n") {
		t.Errorf("unexpected unified output: %q", unified)
	}

	rec = doJSON(t, s, "POST", "/diff", `{"old":"a < b","new":"a > b","format":"html"}`)
	resp = nil
	decodeJSON(t, rec, &resp)
	html, _ := resp["html"].(string)
	if !strings.Contains(html, "<del>&lt;</del><ins>&gt;</ins>") {
		t.Errorf("unexpected html output: %q", html)
	}
}

func TestServer_Diff_UnifiedOfStrippedHTML(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := mustJSON(t, map[string]any{
		"old":         "<p>title</p><p>old body</p>",
		"new":         "<p>title</p><p>new body</p>",
		"strip_html":  true,
		"granularity": "line",
		"format":      "unified",
	})
	rec := doJSON(t, s, "POST", "/diff", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	unified, _ := resp["unified"].(string)
	if strings.Contains(unified, "<p>") {
		t.Errorf("unified output built from markup: %q", unified)
	}
	if !strings.Contains(unified, "-old body") || !strings.Contains(unified, "+new body") {
		t.Errorf("unexpected unified output: %q", unified)
	}
}

func TestServer_Diff_BadRequests(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for _, body := range []string{
		`{invalid}`,
		`{"old":"a","new":"b","granularity":"paragraph"}`,
		`{"old":"a","new":"b","format":"pdf"}`,
	} {
		rec := doJSON(t, s, "POST", "/diff", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestServer_Merge(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/merge", `{
		"base": "Hello world",
		"a": {"user_name": "Alice", "content": "Hello there world"},
		"b": {"user_name": "Bob", "content": "Hello beautiful world"}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Content      string `json:"content"`
		HasConflicts bool   `json:"has_conflicts"`
		Conflict     *struct {
			ID string `json:"id"`
		} `json:"conflict"`
	}
	decodeJSON(t, rec, &resp)
	want := "Hello \n<<<<<<< Alice\nthere \n=======\nbeautiful \n>>>>>>> Bob\nworld"
	if resp.Content != want {
		t.Errorf("content = %q, want %q", resp.Content, want)
	}
	if !resp.HasConflicts || resp.Conflict == nil || resp.Conflict.ID == "" {
		t.Errorf("expected a detected conflict, got %+v", resp)
	}
}

// ─── Documents ─────────────────────────────────────────────────────────

func TestServer_CreateDocument_Validation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/documents", `{"content":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without title and user, got %d", rec.Code)
	}
	rec = doJSON(t, s, "POST", "/documents", `not-json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestServer_DocumentLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	doc := createDocument(t, s, "The quick fox")

	rec := doJSON(t, s, "GET", "/documents", "")
	var docs []map[string]any
	decodeJSON(t, rec, &docs)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	rec = submitEdit(t, s, doc.ID, map[string]string{
		"base_version_id": doc.Head.ID, "user_id": "alice", "content": "The quick brown fox",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, "GET", "/documents/"+doc.ID, "")
	var got docResponse
	decodeJSON(t, rec, &got)
	if got.Head.Content != "The quick brown fox" {
		t.Errorf("unexpected head content %q", got.Head.Content)
	}

	rec = doJSON(t, s, "GET", "/documents/"+doc.ID+"/versions?limit=10", "")
	var versions []map[string]any
	decodeJSON(t, rec, &versions)
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}

	rec = doJSON(t, s, "GET", "/documents/"+doc.ID+"/versions/"+doc.Head.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, s, "GET", "/documents/"+doc.ID+"/diff", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var diff struct {
		BaseVersionID string `json:"base_version_id"`
		Stats         struct {
			Additions int `json:"additions"`
		} `json:"stats"`
	}
	decodeJSON(t, rec, &diff)
	if diff.BaseVersionID != doc.Head.ID || diff.Stats.Additions != 6 {
		t.Errorf("unexpected diff: %+v", diff)
	}
}

func TestServer_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for _, path := range []string{
		"/documents/missing",
		"/documents/missing/versions",
		"/documents/missing/conflicts",
		"/conflicts/missing",
	} {
		rec := doJSON(t, s, "GET", path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

// ─── Conflicts ─────────────────────────────────────────────────────────

func TestServer_ConflictLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	doc := createDocument(t, s, "Hello world")

	rec := submitEdit(t, s, doc.ID, map[string]string{"user_id": "alice", "user_name": "Alice", "content": "Hello there world"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	preview := doJSON(t, s, "POST", "/documents/"+doc.ID+"/edits/preview", mustJSON(t, map[string]string{
		"base_version_id": doc.Head.ID, "user_id": "bob", "user_name": "Bob", "content": "Hello beautiful world",
	}))
	var prev map[string]any
	decodeJSON(t, preview, &prev)
	if prev["status"] != "conflict" {
		t.Errorf("expected preview to predict a conflict, got %v", prev["status"])
	}

	rec = submitEdit(t, s, doc.ID, map[string]string{
		"base_version_id": doc.Head.ID, "user_id": "bob", "user_name": "Bob", "content": "Hello beautiful world",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Status   string `json:"status"`
		Conflict struct {
			ID string `json:"id"`
		} `json:"conflict"`
	}
	decodeJSON(t, rec, &out)
	if out.Status != "conflict" || out.Conflict.ID == "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	rec = doJSON(t, s, "GET", "/documents/"+doc.ID+"/conflicts", "")
	var open []map[string]any
	decodeJSON(t, rec, &open)
	if len(open) != 1 {
		t.Fatalf("expected 1 open conflict, got %d", len(open))
	}

	rec = doJSON(t, s, "POST", "/conflicts/"+out.Conflict.ID+"/resolve", `{"strategy":"custom"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for custom without content, got %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/conflicts/"+out.Conflict.ID+"/resolve", strings.NewReader(`{"strategy":"user-a"}`))
	req.Header.Set("X-User-ID", "carol")
	resolved := httptest.NewRecorder()
	s.ServeHTTP(resolved, req)
	if resolved.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resolved.Code, resolved.Body.String())
	}
	var res struct {
		Conflict struct {
			Resolution struct {
				ResolvedBy    string `json:"resolved_by"`
				ChosenContent string `json:"chosen_content"`
			} `json:"resolution"`
		} `json:"conflict"`
		Edit struct {
			Status string `json:"status"`
		} `json:"edit"`
	}
	decodeJSON(t, resolved, &res)
	if res.Conflict.Resolution.ResolvedBy != "carol" || res.Conflict.Resolution.ChosenContent != "Hello beautiful world" {
		t.Errorf("unexpected resolution: %+v", res.Conflict.Resolution)
	}
	if res.Edit.Status != "committed" {
		t.Errorf("expected the resolution to be committed, got %q", res.Edit.Status)
	}

	rec = doJSON(t, s, "POST", "/conflicts/"+out.Conflict.ID+"/resolve", `{"strategy":"user-b"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a second resolution, got %d", rec.Code)
	}

	rec = doJSON(t, s, "GET", "/documents/"+doc.ID+"/conflicts?status=all", "")
	var all []map[string]any
	decodeJSON(t, rec, &all)
	if len(all) != 1 {
		t.Errorf("expected 1 conflict in total, got %d", len(all))
	}
	rec = doJSON(t, s, "GET", "/documents/"+doc.ID+"/conflicts?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status filter, got %d", rec.Code)
	}
}

// ─── Rate limiting, metrics, docs ──────────────────────────────────────

func TestServer_RateLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, func(c *server.Config) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})

	get := func(user string) int {
		req := httptest.NewRequest("GET", "/documents", nil)
		req.Header.Set("X-User-ID", user)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec.Code
	}

	if get("u1") != http.StatusOK || get("u1") != http.StatusOK {
		t.Fatal("expected the burst to be allowed")
	}
	if code := get("u1"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after the burst, got %d", code)
	}
	if code := get("u2"); code != http.StatusOK {
		t.Errorf("expected another client to be unaffected, got %d", code)
	}
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	createDocument(t, s, "x")

	rec := doJSON(t, s, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	found := false
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, `reconcile_http_requests_total{method="POST",route="/documents`) &&
			strings.Contains(line, `status="201"`) {
			found = true
		}
	}
	if !found {
		t.Errorf("missing request counter in:\n%s", body)
	}
}

func TestServer_SwaggerDoc(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s, "GET", "/swagger/doc.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var doc map[string]any
	decodeJSON(t, rec, &doc)
	if doc["swagger"] != "2.0" {
		t.Errorf("unexpected swagger doc: %v", doc["swagger"])
	}
}

// ─── WebSockets ────────────────────────────────────────────────────────

func TestServer_DocumentWebSocket(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	doc := createDocument(t, s, "Hello world")

	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/documents/" + doc.ID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap server.WSMessage
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != server.WSSnapshot || snap.Document == nil || snap.Document.Head.Content != "Hello world" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	// An edit over HTTP is pushed to the stream.
	rec := submitEdit(t, s, doc.ID, map[string]string{"user_id": "alice", "content": "Hello there world"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var ev app.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != app.EventVersion || ev.Version == nil || ev.Version.Content != "Hello there world" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// An edit over the socket is answered and also broadcast.
	err = conn.WriteJSON(server.WSMessage{Type: server.WSEdit, Edit: &app.EditRequest{
		UserID: "bob", Content: "Hello there world!",
	}})
	if err != nil {
		t.Fatalf("write edit: %v", err)
	}
	var sawResult, sawEvent bool
	for i := 0; i < 2; i++ {
		var raw map[string]json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("read: %v", err)
		}
		var typ string
		_ = json.Unmarshal(raw["type"], &typ)
		switch typ {
		case server.WSEditResult:
			sawResult = true
		case string(app.EventVersion):
			sawEvent = true
		}
	}
	if !sawResult || !sawEvent {
		t.Errorf("expected an edit result and a version event (result=%v event=%v)", sawResult, sawEvent)
	}

	if err := conn.WriteJSON(map[string]string{"type": "nonsense"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var msg server.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != server.WSError {
		t.Errorf("expected an error message, got %+v", msg)
	}
}

func TestServer_DocumentWebSocket_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/documents/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %+v", resp)
	}
}
