package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `addr: ":9999"
log:
  level: debug
  format: json
assets:
  dir: /bundle
  s3:
    bucket: models
    prefix: llm/
    use_path_style: true
engine:
  text: shim
  shim_library: /opt/libshim.so
defaults:
  max_tokens: 256
  top_k: 10
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Assets.Dir != "/bundle" || cfg.Assets.S3 == nil || cfg.Assets.S3.Bucket != "models" || !cfg.Assets.S3.UsePathStyle {
		t.Fatalf("unexpected assets: %+v", cfg.Assets)
	}
	if cfg.Engine.Text != "shim" || cfg.Engine.ShimLibrary != "/opt/libshim.so" {
		t.Fatalf("unexpected engine: %+v", cfg.Engine)
	}
	if cfg.Defaults.MaxTokens != 256 || cfg.Defaults.TopK != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg.Defaults)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","cors":{"enabled":true,"allowed_origins":["https://a"]},"assets":{"cache_dir":"/c"}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || !cfg.CORS.Enabled || len(cfg.CORS.AllowedOrigins) != 1 || cfg.Assets.CacheDir != "/c" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmax_body_bytes=1024\n[engine]\nllama_gpu_layers=33\n[defaults]\ntemperature=0.2\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.MaxBodyBytes != 1024 || cfg.Engine.LlamaGPULayers != 33 || cfg.Defaults.Temperature != 0.2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	cases := map[string]string{
		"cfg.txt":   "not supported",
		"bad.yaml":  "addr: :8080\n: broken\n",
		"bad.json":  `{ "addr": ":8080", "log": }`,
		"bad.toml":  "addr=:8080\nlog\n",
	}
	for name, body := range cases {
		if _, err := Load(writeTempFile(t, d, name, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"LLMBRIDGE_ADDR":             ":1234",
		"LLMBRIDGE_LOG_LEVEL":        "warn",
		"LLMBRIDGE_CORS_ORIGINS":     "https://a, https://b",
		"LLMBRIDGE_S3_BUCKET":        "models",
		"LLMBRIDGE_S3_PATH_STYLE":    "true",
		"LLMBRIDGE_LLAMA_GPU_LAYERS": "20",
		"LLMBRIDGE_EVENT_BUFFER":     "nope",
	}
	cfg := FromEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if cfg.Addr != ":1234" || cfg.Log.Level != "warn" || cfg.Engine.LlamaGPULayers != 20 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.CORS.Enabled || len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b" {
		t.Fatalf("unexpected cors: %+v", cfg.CORS)
	}
	if cfg.Assets.S3 == nil || cfg.Assets.S3.Bucket != "models" || !cfg.Assets.S3.UsePathStyle {
		t.Fatalf("unexpected s3: %+v", cfg.Assets.S3)
	}
	if cfg.EventBuffer != 0 {
		t.Fatalf("unparsable value should be ignored")
	}
}

func TestMergePrecedence(t *testing.T) {
	base := Defaults()
	out := Merge(base, Config{Addr: ":1", Log: LogConfig{Format: "json"}})
	if out.Addr != ":1" || out.Log.Format != "json" || out.Log.Level != "info" {
		t.Fatalf("unexpected merge: %+v", out)
	}
	if out.Defaults.MaxTokens != base.Defaults.MaxTokens || out.Engine.Text != "auto" {
		t.Fatalf("zero fields must not override: %+v", out)
	}
}

func TestResolveLayersFileOverEnv(t *testing.T) {
	t.Setenv("LLMBRIDGE_ADDR", ":2000")
	t.Setenv("LLMBRIDGE_LOG_LEVEL", "debug")
	p := writeTempFile(t, t.TempDir(), "cfg.yaml", "addr: \":3000\"\n")
	cfg, err := Resolve(p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != ":3000" || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	cfg, err = Resolve("")
	if err != nil || cfg.Addr != ":2000" {
		t.Fatalf("env-only resolve: %+v %v", cfg, err)
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := SplitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}
