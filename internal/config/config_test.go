package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FromRoot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "version: 1\ntimeout: 10m\nallow_raw: true\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != dir {
		t.Errorf("Root = %q, want %q", res.Root, dir)
	}
	if res.Config.Version != 1 {
		t.Errorf("Config.Version = %d, want 1", res.Config.Version)
	}
	if got := res.Config.Timeout(); got != 10*time.Minute {
		t.Errorf("Timeout() = %s, want 10m", got)
	}
	if !res.Config.AllowRaw {
		t.Error("AllowRaw = false, want true")
	}
}

func TestLoad_FromSubdirectory(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "welcome: from the root\n")

	sub := filepath.Join(root, "infra", "terraform")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := Load(sub)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != root {
		t.Errorf("Root = %q, want %q", res.Root, root)
	}
	if res.Config.Welcome != "from the root" {
		t.Errorf("Config.Welcome = %q, want the root file's", res.Config.Welcome)
	}
}

func TestLoad_UnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "version: 2\n")
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "unsupported version 2") {
		t.Errorf("Load() error = %v, want unsupported version", err)
	}
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != dir {
		t.Errorf("Root = %q, want %q (fallback to workspace)", res.Root, dir)
	}
	if res.Path != "" {
		t.Errorf("Path = %q, want empty", res.Path)
	}
	if res.Config.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %s, want default", res.Config.Timeout())
	}
	if res.Config.MaxOutputBytes() != DefaultMaxOutput {
		t.Errorf("MaxOutputBytes() = %d, want default", res.Config.MaxOutputBytes())
	}
	if res.Config.TranscriptLimit() != DefaultTranscriptLimit {
		t.Errorf("TranscriptLimit() = %d, want default", res.Config.TranscriptLimit())
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "timeout: [oops\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_Operations(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
operations:
  - name: helm.list
    tool: helm
    description: List releases
    argv: ["helm", "list", "-n", "{{arg \"namespace\"}}"]
    timeout: 2m
    params:
      - name: namespace
        default: default
        pattern: '^[a-z0-9-]+$'
phrases:
  helm releases: helm.list
`)

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ops := res.Config.Operations
	if len(ops) != 1 {
		t.Fatalf("len(Operations) = %d, want 1", len(ops))
	}
	if ops[0].Name != "helm.list" || len(ops[0].Argv) != 4 {
		t.Errorf("Operations[0] = %+v", ops[0])
	}
	if ops[0].Params[0].Default != "default" {
		t.Errorf("param default = %q, want default", ops[0].Params[0].Default)
	}
	if res.Config.Phrases["helm releases"] != "helm.list" {
		t.Errorf("Phrases = %v", res.Config.Phrases)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"future version", Config{Version: 2}, "unsupported version 2"},
		{"negative version", Config{Version: -1}, "unsupported version -1"},
		{"bad timeout", Config{RawTimeout: "soon"}, "timeout"},
		{"missing name", Config{Operations: []OperationConfig{{Argv: []string{"true"}}}}, "name is required"},
		{"missing argv", Config{Operations: []OperationConfig{{Name: "x"}}}, "argv is required"},
		{"duplicate", Config{Operations: []OperationConfig{
			{Name: "x", Argv: []string{"true"}},
			{Name: "x", Argv: []string{"true"}},
		}}, "duplicate"},
		{"bad op timeout", Config{Operations: []OperationConfig{{Name: "x", Argv: []string{"true"}, Timeout: "?"}}}, "timeout"},
		{"param name", Config{Operations: []OperationConfig{{Name: "x", Argv: []string{"true"}, Params: []ParamConfig{{}}}}}, "params[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadEnv_Defaults(t *testing.T) {
	t.Setenv("OPSDECK_LISTEN", "")
	t.Setenv("OPSDECK_RATE_PER_MINUTE", "")
	os.Unsetenv("OPSDECK_LISTEN")
	os.Unsetenv("OPSDECK_RATE_PER_MINUTE")

	e, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if e.Listen != "127.0.0.1:8420" {
		t.Errorf("Listen = %q, want default", e.Listen)
	}
	if e.RatePerMinute != 60 {
		t.Errorf("RatePerMinute = %d, want 60", e.RatePerMinute)
	}
	if e.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %s, want 10s", e.ShutdownTimeout)
	}
}

func TestEnvResolve_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("timeout: 42s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPSDECK_CONFIG", path)

	e, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	res, err := e.Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Path != path {
		t.Errorf("Path = %q, want %q", res.Path, path)
	}
	if res.Config.Timeout() != 42*time.Second {
		t.Errorf("Timeout() = %s, want 42s", res.Config.Timeout())
	}
}
