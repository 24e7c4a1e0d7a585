package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEffectiveDefaults(t *testing.T) {
	eff, err := LoadEffective(Flags{
		Addr: ":8080", DB: "./.database",
		Config: filepath.Join(t.TempDir(), "missing.yaml"),
		Set:    map[string]bool{},
	})
	if err != nil {
		t.Fatalf("missing config file must not be fatal: %v", err)
	}
	if eff.Addr != ":8080" || eff.DBPath != "./.database" {
		t.Fatalf("unexpected effective: addr=%s db=%s", eff.Addr, eff.DBPath)
	}
	cfg := eff.Config
	if cfg.Presence.SendBuffer != 64 || cfg.History.DefaultLimit != 50 ||
		cfg.History.MaxLimit != 200 || cfg.Retention.BatchSize != 500 {
		t.Fatalf("defaults not filled: %+v", cfg)
	}
}

func TestLoadEffectiveMergesFileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 9000
storage:
  db_path: "/data/file"
security:
  signing_keys: ["file-key"]
`)
	t.Setenv("TEAMWIRE_DB_PATH", "/data/env")
	t.Setenv("TEAMWIRE_SIGNING_KEYS", "env-key-1, env-key-2")

	eff, err := LoadEffective(Flags{
		Addr: ":7000", DB: "/data/flag",
		Config: path,
		Set:    map[string]bool{"db": true},
	})
	if err != nil {
		t.Fatalf("LoadEffective failed: %v", err)
	}
	// addr flag was not set, so the file value wins
	if eff.Addr != "127.0.0.1:9000" {
		t.Fatalf("addr = %s", eff.Addr)
	}
	// db flag was set, so it beats both file and env
	if eff.DBPath != "/data/flag" {
		t.Fatalf("db = %s", eff.DBPath)
	}
	keys := eff.Config.Security.SigningKeys
	if len(keys) != 3 || keys[0] != "file-key" || keys[1] != "env-key-1" || keys[2] != "env-key-2" {
		t.Fatalf("signing keys = %v", keys)
	}
}

func TestSizeBytesParsing(t *testing.T) {
	var out struct {
		Max SizeBytes `yaml:"max"`
	}
	for _, tc := range []struct {
		raw  string
		want int64
	}{
		{"max: 64MB", 64 * 1000 * 1000},
		{"max: 1024", 1024},
		{"max: \"\"", 0},
	} {
		if err := yaml.Unmarshal([]byte(tc.raw), &out); err != nil {
			t.Fatalf("unmarshal %q: %v", tc.raw, err)
		}
		if out.Max.Int64() != tc.want {
			t.Fatalf("%q = %d, want %d", tc.raw, out.Max.Int64(), tc.want)
		}
	}
	if err := yaml.Unmarshal([]byte("max: lots"), &out); err == nil {
		t.Fatal("garbage size must fail")
	}
}

func TestDurationParsing(t *testing.T) {
	var out struct {
		Period Duration `yaml:"period"`
	}
	if err := yaml.Unmarshal([]byte("period: 90m"), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Period.Duration() != 90*time.Minute {
		t.Fatalf("period = %v", out.Period.Duration())
	}
	// bare numbers read as seconds
	if err := yaml.Unmarshal([]byte("period: 30"), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Period.Duration() != 30*time.Second {
		t.Fatalf("period = %v", out.Period.Duration())
	}
}

func TestSigningKeyRuntime(t *testing.T) {
	SetRuntime(&RuntimeConfig{SigningKeys: map[string]struct{}{"a": {}, "b": {}}})
	keys := GetSigningKeys()
	if len(keys) != 2 {
		t.Fatalf("keys = %v", keys)
	}
	// the returned map is a copy; mutating it must not leak back
	delete(keys, "a")
	if len(GetSigningKeys()) != 2 {
		t.Fatal("GetSigningKeys must return a copy")
	}
}
