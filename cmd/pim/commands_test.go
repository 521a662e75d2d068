package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/pim/internal/catalog"
	"github.com/kalambet/pim/internal/config"
	"github.com/kalambet/pim/internal/storage"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]recordedRequest(nil), ts.requests...)
}

// resetFlags restores every flag under cmd to its default so one test's
// arguments do not leak into the next Execute.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// useServer points newAPIClient at ts for the duration of the test and
// captures stdout.
func useServer(t *testing.T, ts *testServer) *bytes.Buffer {
	t.Helper()
	oldClient, oldStdout := newAPIClient, stdout
	t.Cleanup(func() {
		newAPIClient, stdout = oldClient, oldStdout
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})

	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	var buf bytes.Buffer
	stdout = &buf
	return &buf
}

var ctx = context.Background()

func TestRunBatch(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /batch/run": `{"run_id":"r1","processed":2,"injected":1,"existing":0,"skipped":1,"remaining":3,"shared":false}`,
	})

	res, err := runBatch(ctx, ts.client(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RunID != "r1" || res.Processed != 2 || res.Skipped != 1 || res.Remaining != 3 {
		t.Errorf("result = %+v", res)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	r := reqs[0]
	if r.Method != "POST" || r.Path != "/batch/run" {
		t.Errorf("request = %s %s, want POST /batch/run", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	if r.Body != `{"limit":2}`+"\n" && r.Body != `{"limit":2}` {
		t.Errorf("body = %q", r.Body)
	}
}

func TestRunUntilDone(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		switch calls {
		case 1:
			w.Write([]byte(`{"processed":2,"injected":2,"remaining":1}`))
		case 2:
			w.Write([]byte(`{"processed":1,"existing":1,"remaining":0}`))
		default:
			w.Write([]byte(`{"processed":0,"remaining":0}`))
		}
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}
	var progress []int
	total, err := runUntilDone(ctx, client, 2, func(r runResult) {
		progress = append(progress, r.Remaining)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total.Processed != 3 || total.Injected != 2 || total.Existing != 1 {
		t.Errorf("total = %+v, want 3 processed, 2 injected, 1 existing", total)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(progress) != 2 || progress[0] != 1 || progress[1] != 0 {
		t.Errorf("progress = %v, want [1 0]", progress)
	}
}

func TestRunUntilDone_StopsOnError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	_, err := runUntilDone(ctx, ts.client(), 0, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to contain 404", err.Error())
	}
	if n := len(ts.recorded()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestBatchResetCommand_RequiresConfirm(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /batch/reset": `{"fragments":1,"processed":1}`,
	})
	useServer(t, ts)

	rootCmd.SetArgs([]string{"batch", "reset"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(ts.recorded()); n != 0 {
		t.Fatalf("requests = %d without --confirm, want 0", n)
	}

	rootCmd.SetArgs([]string{"batch", "reset", "--confirm"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if !strings.Contains(reqs[0].Body, `"confirm":"DELETE"`) {
		t.Errorf("body = %q, want confirmation", reqs[0].Body)
	}
}

func TestBatchStatusCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /batch/status": `{"total":5,"processed":3,"remaining":2,"injected":2,"existing":0,"skipped":1}`,
	})
	out := useServer(t, ts)
	noColor = true
	defer func() { noColor = false }()

	rootCmd.SetArgs([]string{"batch", "status"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Items: 5", "Remaining: 2", "Skipped: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestUpdateSettings_KeepsUnchangedFields(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /settings": `{"template":"See {category}","interval":5}`,
		"PUT /settings": `{"template":"See {category}","interval":2}`,
	})

	interval := 2
	saved, err := updateSettings(ctx, ts.client(), nil, &interval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Interval != 2 {
		t.Errorf("interval = %d, want 2", saved.Interval)
	}

	reqs := ts.recorded()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(reqs[1].Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent["template"] != "See {category}" || sent["interval"] != float64(2) {
		t.Errorf("sent = %v", sent)
	}
}

func TestSettingsSetCommand_MissingArgs(t *testing.T) {
	useServer(t, newTestServer(t, nil))

	rootCmd.SetArgs([]string{"settings", "set"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing flags")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestSettingsSetCommand_Warning(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /settings": `{"template":"See {category}","interval":5}`,
		"PUT /settings": `{"template":"No link","interval":5,"warnings":["template has no {category} placeholder"]}`,
	})
	useServer(t, ts)

	rootCmd.SetArgs([]string{"settings", "set", "--template", "No link"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := ts.recorded()
	if len(reqs) != 2 || !strings.Contains(reqs[1].Body, `"template":"No link"`) {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestCategoriesCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /categories": `[{"id":"news","name":"News","slug":"news","parent_id":"","depth":0,"link":"/category/news/"},` +
			`{"id":"local","name":"Local","slug":"local","parent_id":"news","depth":1,"link":"/category/news/local/"}]`,
	})
	out := useServer(t, ts)
	noColor = true
	defer func() { noColor = false }()

	rootCmd.SetArgs([]string{"categories", "--root", "a b"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "News") || !strings.HasPrefix(lines[1], "  Local") {
		t.Errorf("tree not indented by depth:\n%s", out.String())
	}
	if p := ts.recorded()[0].Path; p != "/categories?root=a+b" {
		t.Errorf("path = %q, want encoded root", p)
	}
}

func TestItemsAddCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /items": `{"id":"post-1","title":"Hello"}`,
	})
	useServer(t, ts)

	file := filepath.Join(t.TempDir(), "post.html")
	if err := os.WriteFile(file, []byte("<p>one</p>"), 0o644); err != nil {
		t.Fatal(err)
	}

	rootCmd.SetArgs([]string{"items", "add", "--id", "post-1", "--title", "Hello", "--file", file, "--category", "local,news"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		ID         string   `json:"id"`
		Markup     string   `json:"markup"`
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal([]byte(ts.recorded()[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.ID != "post-1" || body.Markup != "<p>one</p>" {
		t.Errorf("body = %+v", body)
	}
	if len(body.Categories) != 2 || body.Categories[0] != "local" {
		t.Errorf("categories = %v, want [local news]", body.Categories)
	}
}

func TestItemsAddCommand_MissingTitle(t *testing.T) {
	useServer(t, newTestServer(t, nil))

	rootCmd.SetArgs([]string{"items", "add"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "--title") {
		t.Errorf("err = %v, want missing --title", err)
	}
}

func TestItemsOverrideCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /items/post-1/category": `{"id":"post-1"}`,
	})
	useServer(t, ts)

	rootCmd.SetArgs([]string{"items", "override", "post-1", "featured"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rootCmd.SetArgs([]string{"items", "override", "post-1"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := ts.recorded()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if !strings.Contains(reqs[0].Body, `"category_id":"featured"`) {
		t.Errorf("set body = %q", reqs[0].Body)
	}
	if !strings.Contains(reqs[1].Body, `"category_id":""`) {
		t.Errorf("clear body = %q", reqs[1].Body)
	}
}

func TestRenderCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch {
		case r.Method == "GET" && r.URL.Path == "/items/post-1/render":
			w.Write([]byte("<p>stored</p><p>frag</p>"))
		case r.Method == "POST" && r.URL.Path == "/render/post-1":
			var body bytes.Buffer
			body.ReadFrom(r.Body)
			w.Write([]byte(body.String() + "<p>frag</p>"))
		default:
			w.WriteHeader(404)
		}
	}))
	defer ts.Close()

	oldClient, oldStdout := newAPIClient, stdout
	defer func() {
		newAPIClient, stdout = oldClient, oldStdout
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	}()
	newAPIClient = func() (*apiClient, error) {
		return &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}, nil
	}
	var out bytes.Buffer
	stdout = &out

	rootCmd.SetArgs([]string{"render", "post-1"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "<p>stored</p><p>frag</p>" {
		t.Errorf("stored render = %q", out.String())
	}

	file := filepath.Join(t.TempDir(), "in.html")
	if err := os.WriteFile(file, []byte("<p>mine</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	rootCmd.SetArgs([]string{"render", "post-1", "--file", file})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "<p>mine</p><p>frag</p>" {
		t.Errorf("file render = %q", out.String())
	}
}

func TestImportCatalog(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /categories": `{"id":"x"}`,
		"POST /items":      `{"id":"x"}`,
	})

	cat := &catalog.Catalog{
		Categories: []storage.Category{
			{ID: "news", Name: "News", Slug: "news"},
			{ID: "local", Name: "Local", Slug: "local", ParentID: "news"},
		},
		Items: []catalog.Item{
			{Item: storage.Item{ID: "post-1", Title: "One", Markup: "<p>1</p>"}, Categories: []string{"local"}},
			{Item: storage.Item{ID: "post-2", Title: "Two", CategoryOverride: "news"}},
		},
	}

	nCats, nItems, err := importCatalog(ctx, ts.client(), cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nCats != 2 || nItems != 2 {
		t.Errorf("imported %d categories and %d items, want 2 and 2", nCats, nItems)
	}

	reqs := ts.recorded()
	if len(reqs) != 4 {
		t.Fatalf("requests = %d, want 4", len(reqs))
	}
	if reqs[0].Path != "/categories" || !strings.Contains(reqs[0].Body, `"id":"news"`) {
		t.Errorf("first request = %+v, want parent category first", reqs[0])
	}
	if !strings.Contains(reqs[1].Body, `"parent_id":"news"`) {
		t.Errorf("child body = %q", reqs[1].Body)
	}
	if !strings.Contains(reqs[3].Body, `"categories":[]`) || !strings.Contains(reqs[3].Body, `"category_override":"news"`) {
		t.Errorf("second item body = %q", reqs[3].Body)
	}
}

func TestImportCatalog_StopsOnFailure(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /categories": `{"id":"x"}`,
	})

	cat := &catalog.Catalog{
		Categories: []storage.Category{{ID: "news", Name: "News"}},
		Items: []catalog.Item{
			{Item: storage.Item{ID: "post-1", Title: "One"}},
			{Item: storage.Item{ID: "post-2", Title: "Two"}},
		},
	}

	nCats, nItems, err := importCatalog(ctx, ts.client(), cat)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "post-1") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q", err.Error())
	}
	if nCats != 1 || nItems != 0 {
		t.Errorf("imported %d/%d before failing, want 1/0", nCats, nItems)
	}
	if n := len(ts.recorded()); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})
	out := useServer(t, ts)

	if !serverStatus(ctx, ts.client(), 4100) {
		t.Error("serverStatus = false, want true")
	}
	if !strings.Contains(out.String(), "running on port 4100") {
		t.Errorf("output = %q", out.String())
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}

	out := useServer(t, ts)
	if serverStatus(ctx, ts.client(), 4100) {
		t.Error("serverStatus = true for stopped server")
	}
	if !strings.Contains(out.String(), "stopped") {
		t.Errorf("output = %q", out.String())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/settings")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if err.Error() != "server returned 401: invalid or missing bearer token" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestReadText_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte("boom\n"))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	resp, err := client.postHTML(ctx, "/render/x", "<p>a</p>")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if _, err := readText(resp); err == nil || err.Error() != "server returned 500: boom" {
		t.Errorf("err = %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARN":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"info":    "INFO",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for in, want := range tests {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestBuildDeps(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	cfg := config.Config{}
	cfg.Server.APIToken = "tok"
	cfg.Site.BaseURL = "https://example.com"
	cfg.Site.CategoryBase = "topics"
	cfg.Batch.Limit = 7

	deps := buildDeps(cfg, store)
	if deps.Token != "tok" || deps.BatchLimit != 7 {
		t.Errorf("deps token/limit = %q/%d", deps.Token, deps.BatchLimit)
	}
	if deps.Assigner == nil || deps.Display == nil || deps.Runs == nil || deps.Settings == nil {
		t.Fatal("buildDeps left a dependency nil")
	}

	link, err := deps.Linker.Link(storage.Category{ID: "news", Name: "News", Slug: "news"})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if link != "https://example.com/topics/news/" {
		t.Errorf("link = %q", link)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "nested"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}
