package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolpilot.yaml")
	payload := `
llm:
  provider: openai
tools:
  calendar:
    command: python3
    args: ["calendar_server.py"]
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LLM.Tier != "hosted" {
		t.Fatalf("Tier = %q, want hosted for openai provider", cfg.LLM.Tier)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("Address = %q", cfg.Server.Address)
	}
	if cfg.History.Driver != "memory" {
		t.Fatalf("History.Driver = %q", cfg.History.Driver)
	}
	if cfg.Events.Driver != "log" {
		t.Fatalf("Events.Driver = %q", cfg.Events.Driver)
	}
	if cfg.Tools.Backoff.MaxAttempts != 3 || cfg.Tools.Backoff.BaseDelayMS != 500 {
		t.Fatalf("Backoff = %+v", cfg.Tools.Backoff)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("DataDir = %q", cfg.Runtime.DataDir)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Provider != "bridge" || cfg.LLM.Tier != "local" {
		t.Fatalf("LLM defaults = %+v", cfg.LLM)
	}
	if cfg.Knowledge.MaxResults != 3 {
		t.Fatalf("Knowledge.MaxResults = %d", cfg.Knowledge.MaxResults)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("Load should fail for missing file")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("Load should reject empty path")
	}
}

func TestToolServerTimeouts(t *testing.T) {
	var cfg ToolServerConfig
	if cfg.HealthTimeout() != 5*time.Second {
		t.Fatalf("HealthTimeout default = %s", cfg.HealthTimeout())
	}
	if cfg.InvokeTimeout() != 30*time.Second {
		t.Fatalf("InvokeTimeout default = %s", cfg.InvokeTimeout())
	}

	cfg.HealthTimeoutSeconds = 2
	cfg.InvokeTimeoutSeconds = 90
	if cfg.HealthTimeout() != 2*time.Second || cfg.InvokeTimeout() != 90*time.Second {
		t.Fatalf("configured timeouts not honored")
	}
}

func TestRelativePathsResolvedAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolpilot.yaml")
	payload := `
llm:
  bridge:
    working_dir: scripts
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Bridge.WorkingDir != filepath.Join(dir, "scripts") {
		t.Fatalf("WorkingDir = %q", cfg.LLM.Bridge.WorkingDir)
	}
}
