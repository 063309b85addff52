package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kinkernel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Telemetry.Exporter != "none" {
		t.Errorf("expected exporter none, got %s", cfg.Telemetry.Exporter)
	}
	if cfg.MCP.Name != "kinkernel" || cfg.MCP.Transport != "stdio" || cfg.MCP.Addr != "localhost:8080" {
		t.Errorf("unexpected mcp defaults: %+v", cfg.MCP)
	}
	if cfg.Cell.Timeout() != 0 {
		t.Errorf("expected no default timeout, got %s", cfg.Cell.Timeout())
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
cell:
  timeout_seconds: 3
cells:
  processor:
    env_vars:
      - key: ENV_VAR_1
        value: value1
      - key: ENV_VAR_2
        value: value2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug, got %s", cfg.Log.Level)
	}
	if cfg.Cell.Timeout() != 3*time.Second {
		t.Errorf("expected 3s timeout, got %s", cfg.Cell.Timeout())
	}
	processor := cfg.CellFor("processor")
	if v, ok := processor.Lookup("ENV_VAR_2"); !ok || v != "value2" {
		t.Errorf("expected ENV_VAR_2=value2, got %q", v)
	}
	if _, ok := cfg.CellFor("unknown").Lookup("ENV_VAR_1"); ok {
		t.Errorf("expected unknown role to have no env vars")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("KINKERNEL_LOG_FORMAT", "json")
	t.Setenv("KINKERNEL_TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("KINKERNEL_CELL_TIMEOUT_SECONDS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json format from env, got %s", cfg.Log.Format)
	}
	if cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("expected otlp endpoint from env, got %q", cfg.Telemetry.OTLPEndpoint)
	}
	if cfg.Cell.TimeoutSeconds != 7 {
		t.Errorf("expected timeout from env, got %d", cfg.Cell.TimeoutSeconds)
	}
}

func TestLoadWithCLIOverrides(t *testing.T) {
	path := writeConfig(t, `
log:
  level: info
mcp:
  transport: stdio
`)
	t.Setenv("KINKERNEL_LOG_LEVEL", "warn")

	cfg, err := LoadWithCLI([]string{
		"list",
		"--config", path,
		"--set", "log.level=error",
		"--set=mcp.transport=http",
		"--set", "cell.timeout_seconds=12",
		"--set", `cells.processor={"env_vars":[{"key":"ENV_VAR_1","value":"from-cli"}]}`,
		"--set", `mcp.servers={"remote":{"transport":"http","url":"http://localhost:9090/mcp"}}`,
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("expected cli to win over env, got %s", cfg.Log.Level)
	}
	if cfg.MCP.Transport != "http" {
		t.Errorf("expected inline --set to apply, got %s", cfg.MCP.Transport)
	}
	if cfg.Cell.TimeoutSeconds != 12 {
		t.Errorf("expected timeout override, got %d", cfg.Cell.TimeoutSeconds)
	}
	if v, _ := cfg.CellFor("processor").Lookup("ENV_VAR_1"); v != "from-cli" {
		t.Errorf("expected env var from cli, got %q", v)
	}
	if cfg.MCP.Servers["remote"].URL != "http://localhost:9090/mcp" {
		t.Errorf("unexpected servers: %+v", cfg.MCP.Servers)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	tests := [][]string{
		{"--config"},
		{"--set"},
		{"--set", "invalid"},
		{"--set", "=value"},
	}
	for _, args := range tests {
		if _, _, err := parseCLIOverrides(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestParseValue(t *testing.T) {
	if v := parseValue("true"); v != true {
		t.Errorf("expected bool, got %#v", v)
	}
	if v := parseValue("12"); v != 12 {
		t.Errorf("expected int, got %#v", v)
	}
	if v := parseValue(""); v != "" {
		t.Errorf("expected empty string, got %#v", v)
	}
	if v := parseValue("{unclosed"); v != "{unclosed" {
		t.Errorf("expected raw string, got %#v", v)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "exporter", args: []string{"--set", "telemetry.exporter=zipkin"}, want: "telemetry.exporter"},
		{name: "transport", args: []string{"--set", "mcp.transport=grpc"}, want: "mcp.transport"},
		{name: "timeout", args: []string{"--set", "cell.timeout_seconds=-1"}, want: "cell.timeout_seconds"},
		{name: "stdio server", args: []string{"--set", `mcp.servers={"a":{"transport":"stdio"}}`}, want: "requires command"},
		{name: "http server", args: []string{"--set", `mcp.servers={"a":{"transport":"http"}}`}, want: "requires url"},
		{name: "env key", args: []string{"--set", `cells.sum={"env_vars":[{"value":"x"}]}`}, want: "key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithCLI(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLookupLastWins(t *testing.T) {
	c := CellConfig{EnvVars: []EnvVar{{Key: "A", Value: "1"}, {Key: "A", Value: "2"}}}
	if v, ok := c.Lookup("A"); !ok || v != "2" {
		t.Fatalf("expected last value, got %q", v)
	}
	var nilCfg *Config
	if len(nilCfg.CellFor("x").EnvVars) != 0 {
		t.Fatalf("expected empty cell config")
	}
}
