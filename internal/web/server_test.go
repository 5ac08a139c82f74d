package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/deixis/opsdeck/internal/config"
	"github.com/deixis/opsdeck/internal/ops"
	"github.com/deixis/opsdeck/internal/runner"
	"github.com/deixis/opsdeck/internal/transcript"
	"golang.org/x/time/rate"
)

func newEngine(t *testing.T, cfg *config.Config) *ops.Engine {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests use POSIX shell syntax")
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	catalog := ops.NewCatalog()
	if err := catalog.Add(ops.Spec{
		Name:        "shell.echo",
		Description: "Echo text.",
		Params:      []ops.Param{{Name: "text", Required: true}},
		Argv:        []string{"echo", `{{arg "text"}}`},
	}); err != nil {
		t.Fatal(err)
	}
	return &ops.Engine{
		Config:    cfg,
		Runner:    &runner.Runner{Timeout: 10 * time.Second},
		Catalog:   catalog,
		Log:       transcript.New(transcript.DefaultWelcome, 0),
		Workspace: t.TempDir(),
		LookPath: func(name string) (string, error) {
			if name == "docker" {
				return "", exec.ErrNotFound
			}
			return exec.LookPath(name)
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEntry(t *testing.T, rec *httptest.ResponseRecorder) transcript.Entry {
	t.Helper()
	var e transcript.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decoding entry: %v\n%s", err, rec.Body.String())
	}
	return e
}

func TestIndex(t *testing.T) {
	h := NewServer(newEngine(t, nil), Options{}).Handler()
	rec := do(t, h, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<title>opsdeck</title>") {
		t.Error("index page not served")
	}
	if rec := do(t, h, "GET", "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want 404", rec.Code)
	}
}

func TestOperations(t *testing.T) {
	h := NewServer(newEngine(t, nil), Options{}).Handler()
	rec := do(t, h, "GET", "/api/operations", "")
	var body struct {
		Operations []ops.Spec        `json:"operations"`
		Phrases    map[string]string `json:"phrases"`
		AllowRaw   bool              `json:"allow_raw"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range body.Operations {
		if s.Name == "docker.pull" {
			found = true
		}
	}
	if !found {
		t.Error("docker.pull missing from /api/operations")
	}
	if body.Phrases["docker containers"] != "docker.ps" {
		t.Errorf("phrases = %v", body.Phrases)
	}
	if body.AllowRaw {
		t.Error("allow_raw should default to false")
	}
}

func TestRun(t *testing.T) {
	engine := newEngine(t, nil)
	h := NewServer(engine, Options{}).Handler()
	rec := do(t, h, "POST", "/api/run", `{"operation":"shell.echo","args":{"text":"hello $USER"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	e := decodeEntry(t, rec)
	if e.Status != runner.Success || e.Stdout != "hello $USER\n" {
		t.Errorf("entry = %+v", e)
	}
	if e.Source != "web" || e.Operation != "shell.echo" || e.Seq != 1 {
		t.Errorf("entry metadata = %+v", e)
	}
	if engine.Log.Len() != 1 {
		t.Errorf("transcript has %d entries", engine.Log.Len())
	}
}

func TestRun_NonZeroExitIsOK(t *testing.T) {
	engine := newEngine(t, nil)
	if err := engine.Catalog.Add(ops.Spec{Name: "shell.fail", Argv: []string{"false"}}); err != nil {
		t.Fatal(err)
	}
	h := NewServer(engine, Options{}).Handler()
	rec := do(t, h, "POST", "/api/run", `{"operation":"shell.fail"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if e := decodeEntry(t, rec); e.Status != runner.NonZeroExit || e.ExitCode != 1 {
		t.Errorf("entry = %+v", e)
	}
}

func TestRun_Errors(t *testing.T) {
	h := NewServer(newEngine(t, nil), Options{}).Handler()
	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing operation", `{}`, http.StatusBadRequest},
		{"unknown operation", `{"operation":"docker.explode"}`, http.StatusNotFound},
		{"missing arg", `{"operation":"shell.echo"}`, http.StatusBadRequest},
		{"invalid arg", `{"operation":"docker.pull","args":{"image":"nginx; rm -rf /"}}`, http.StatusBadRequest},
		{"tool unavailable", `{"operation":"docker.pull","args":{"image":"nginx"}}`, http.StatusFailedDependency},
		{"dir outside workspace", `{"operation":"shell.echo","args":{"text":"x"},"dir":"../.."}`, http.StatusBadRequest},
		{"unknown field", `{"operation":"shell.echo","bogus":1}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, "POST", "/api/run", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("expected JSON error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestRun_DryRun(t *testing.T) {
	engine := newEngine(t, nil)
	h := NewServer(engine, Options{}).Handler()
	rec := do(t, h, "POST", "/api/run", `{"operation":"docker.images","dry_run":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["command"] != "docker images" {
		t.Errorf("command = %q", body["command"])
	}
	if engine.Log.Len() != 0 {
		t.Error("dry run was recorded")
	}
}

func TestExec_Forbidden(t *testing.T) {
	engine := newEngine(t, nil)
	h := NewServer(engine, Options{}).Handler()
	rec := do(t, h, "POST", "/api/exec", `{"command":"echo hi"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if engine.Log.Len() != 0 {
		t.Error("forbidden exec was recorded")
	}
}

func TestExec_Allowed(t *testing.T) {
	h := NewServer(newEngine(t, &config.Config{AllowRaw: true}), Options{}).Handler()
	rec := do(t, h, "POST", "/api/exec", `{"command":"echo out; echo err >&2; exit 3"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	e := decodeEntry(t, rec)
	if e.Status != runner.NonZeroExit || e.ExitCode != 3 || e.Stdout != "out\n" || e.Stderr != "err\n" {
		t.Errorf("entry = %+v", e)
	}
	if e.Operation != "" {
		t.Errorf("raw entry has operation %q", e.Operation)
	}
}

func TestExec_MissingCommand(t *testing.T) {
	h := NewServer(newEngine(t, &config.Config{AllowRaw: true}), Options{}).Handler()
	if rec := do(t, h, "POST", "/api/exec", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPhrase(t *testing.T) {
	h := NewServer(newEngine(t, nil), Options{}).Handler()
	rec := do(t, h, "POST", "/api/phrase", `{"text":"Who am I?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if e := decodeEntry(t, rec); e.Operation != "shell.whoami" {
		t.Errorf("operation = %q", e.Operation)
	}

	if rec := do(t, h, "POST", "/api/phrase", `{"text":"bake a cake"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unmatched phrase status = %d, want 404", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	engine := newEngine(t, nil)
	h := NewServer(engine, Options{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}).Handler()

	if rec := do(t, h, "POST", "/api/run", `{"operation":"shell.echo","args":{"text":"a"}}`); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := do(t, h, "POST", "/api/phrase", `{"text":"date"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", rec.Code)
	}
	if rec := do(t, h, "GET", "/api/transcript", ""); rec.Code != http.StatusOK {
		t.Errorf("read endpoints should not be limited, got %d", rec.Code)
	}
	if engine.Log.Len() != 1 {
		t.Errorf("transcript has %d entries, want 1", engine.Log.Len())
	}
}

func TestTranscript(t *testing.T) {
	engine := newEngine(t, nil)
	h := NewServer(engine, Options{}).Handler()
	do(t, h, "POST", "/api/run", `{"operation":"shell.echo","args":{"text":"one"}}`)

	text := do(t, h, "GET", "/api/transcript", "")
	want := transcript.DefaultWelcome + "\n\n$ echo one\none\n"
	if text.Body.String() != want {
		t.Errorf("transcript = %q, want %q", text.Body.String(), want)
	}
	if ct := text.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Welcome string             `json:"welcome"`
		Entries []transcript.Entry `json:"entries"`
	}
	rec := do(t, h, "GET", "/api/transcript?format=json", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Welcome != transcript.DefaultWelcome || len(body.Entries) != 1 || body.Entries[0].Stdout != "one\n" {
		t.Errorf("json transcript = %+v", body)
	}

	if rec := do(t, h, "DELETE", "/api/transcript", ""); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", rec.Code)
	}
	if engine.Log.Len() != 0 {
		t.Error("transcript not cleared")
	}
}

func TestTools(t *testing.T) {
	h := NewServer(newEngine(t, nil), Options{}).Handler()
	rec := do(t, h, "GET", "/api/tools", "")
	var tools []ops.ToolStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &tools); err != nil {
		t.Fatal(err)
	}
	for _, ts := range tools {
		if ts.Name == "docker" {
			if ts.Available || ts.Install == "" {
				t.Errorf("docker status = %+v", ts)
			}
			return
		}
	}
	t.Error("docker missing from /api/tools")
}

// readEvent reads the next SSE data payload.
func readEvent(t *testing.T, r *bufio.Reader) event {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
		if !ok {
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decoding event %q: %v", data, err)
		}
		return ev
	}
}

func TestStream(t *testing.T) {
	engine := newEngine(t, nil)
	engine.Log.Append(transcript.Entry{Result: runner.Result{Command: "earlier", Status: runner.Success}})
	srv := NewServer(engine, Options{ShutdownTimeout: time.Second})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()
	req, _ := http.NewRequestWithContext(streamCtx, "GET", base+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	snap := readEvent(t, r)
	if snap.Type != "snapshot" || len(snap.Entries) != 1 || snap.Entries[0].Command != "earlier" {
		t.Fatalf("snapshot = %+v", snap)
	}

	post, err := http.Post(base+"/api/run", "application/json", strings.NewReader(`{"operation":"shell.echo","args":{"text":"live"}}`))
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()

	ev := readEvent(t, r)
	if ev.Type != "entry" || ev.Entry == nil || ev.Entry.Stdout != "live\n" {
		t.Fatalf("event = %+v", ev)
	}

	req, _ = http.NewRequest("DELETE", base+"/api/transcript", nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	del.Body.Close()
	if ev := readEvent(t, r); ev.Type != "clear" {
		t.Errorf("event = %+v, want clear", ev)
	}

	streamCancel()
	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("ServeListener: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStream_SkipsEntriesInSnapshot(t *testing.T) {
	engine := newEngine(t, nil)
	first := engine.Log.Append(transcript.Entry{Result: runner.Result{Command: "one", Status: runner.Success}})
	second := engine.Log.Append(transcript.Entry{Result: runner.Result{Command: "two", Status: runner.Success}})
	srv := NewServer(engine, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.broadcaster.Run(ctx)
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	req, _ := http.NewRequestWithContext(ctx, "GET", hs.URL+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/stream: %v", err)
	}
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)

	if snap := readEvent(t, r); len(snap.Entries) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}

	// Events for entries already in the snapshot, as delivered by a
	// watcher that fired after the client subscribed.
	srv.publish(event{Type: "entry", Entry: &first})
	srv.publish(event{Type: "entry", Entry: &second})
	third := engine.Log.Append(transcript.Entry{Result: runner.Result{Command: "three", Status: runner.Success}})
	srv.publish(event{Type: "entry", Entry: &third})
	srv.publish(event{Type: "clear"})

	ev := readEvent(t, r)
	if ev.Type != "entry" || ev.Entry == nil || ev.Entry.Seq != third.Seq {
		t.Fatalf("event = %+v, want entry seq %d", ev, third.Seq)
	}
	if ev := readEvent(t, r); ev.Type != "clear" {
		t.Errorf("event = %+v, want clear", ev)
	}
}
