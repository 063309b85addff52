package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestParseGlobalFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		config  []string
		json    bool
		help    bool
		rest    []string
		wantErr bool
	}{
		{name: "command only", args: []string{"list"}, rest: []string{"list"}},
		{name: "json", args: []string{"--json", "run", "sum"}, json: true, rest: []string{"run", "sum"}},
		{
			name:   "config and set",
			args:   []string{"--config", "k.yaml", "--set=log.level=debug", "list"},
			config: []string{"--config", "k.yaml", "--set=log.level=debug"},
			rest:   []string{"list"},
		},
		{name: "help", args: []string{"-h", "list"}, help: true},
		{name: "separator", args: []string{"--", "--json"}, rest: []string{"--json"}},
		{name: "missing value", args: []string{"--config"}, wantErr: true},
		{name: "unknown flag", args: []string{"--verbose", "list"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, rest, err := parseGlobalFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if flags.JSON != tt.json || flags.Help != tt.help {
				t.Fatalf("unexpected flags %+v", flags)
			}
			if strings.Join(flags.ConfigArgs, " ") != strings.Join(tt.config, " ") {
				t.Fatalf("expected config args %v, got %v", tt.config, flags.ConfigArgs)
			}
			if strings.Join(rest, " ") != strings.Join(tt.rest, " ") {
				t.Fatalf("expected rest %v, got %v", tt.rest, rest)
			}
		})
	}
}

func TestRunUsageAndVersion(t *testing.T) {
	res := runCLI(t, "")
	if res.code != 0 || !strings.Contains(res.stdout, "Usage:") {
		t.Fatalf("expected usage, got %d %q", res.code, res.stdout)
	}

	res = runCLI(t, "", "--json", "version")
	if res.code != 0 {
		t.Fatalf("version failed: %s", res.stderr)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(res.stdout), &v); err != nil || v["version"] != version {
		t.Fatalf("unexpected version output %q", res.stdout)
	}

	res = runCLI(t, "", "--bogus")
	if res.code != 2 || !strings.Contains(res.stderr, "INVALID_INPUT") {
		t.Fatalf("expected flag error, got %d %q", res.code, res.stderr)
	}
}

func TestRunList(t *testing.T) {
	res := runCLI(t, "", "--json", "list")
	if res.code != 0 {
		t.Fatalf("list failed: %s", res.stderr)
	}
	var infos []cellInfo
	if err := json.Unmarshal([]byte(res.stdout), &infos); err != nil {
		t.Fatalf("invalid list output %q: %v", res.stdout, err)
	}
	var roles []string
	for _, info := range infos {
		if info.Source != sourceLocal || info.Description == "" {
			t.Fatalf("unexpected cell info %+v", info)
		}
		roles = append(roles, info.Role)
	}
	if strings.Join(roles, ",") != "processor,shipping_label,sum" {
		t.Fatalf("unexpected roles %v", roles)
	}

	res = runCLI(t, "", "list")
	if res.code != 0 || !strings.HasPrefix(res.stdout, "ROLE") || !strings.Contains(res.stdout, "shipping_label") {
		t.Fatalf("unexpected table %q", res.stdout)
	}
}

func TestRunSchema(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{name: "input", args: []string{"schema", "sum"}, want: `"title": "SumInput"`},
		{name: "output", args: []string{"schema", "sum", "--output"}, want: `"result"`},
		{name: "tool", args: []string{"schema", "sum", "--tool"}, want: `"type": "function"`},
		{name: "yaml", args: []string{"schema", "sum", "--yaml"}, want: "title: SumInput"},
		{name: "unknown role", args: []string{"schema", "nope"}, code: 1},
		{name: "exclusive flags", args: []string{"schema", "sum", "--output", "--tool"}, code: 1},
		{name: "missing role", args: []string{"schema"}, code: 1},
		{name: "flag before role", args: []string{"schema", "--yaml", "sum"}, want: "title: SumInput"},
		{name: "unknown flag", args: []string{"schema", "sum", "--bogus"}, code: 1},
		{name: "two roles", args: []string{"schema", "sum", "processor"}, code: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, "", tt.args...)
			if res.code != tt.code {
				t.Fatalf("expected exit %d, got %d (%s)", tt.code, res.code, res.stderr)
			}
			if tt.code == 0 && !strings.Contains(res.stdout, tt.want) {
				t.Fatalf("expected %q in %q", tt.want, res.stdout)
			}
		})
	}
}

func TestRunSchemaUnknownRoleHint(t *testing.T) {
	res := runCLI(t, "", "--json", "schema", "nope")
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Hint    string `json:"hint"`
		} `json:"error"`
	}
	lines := strings.Split(strings.TrimSpace(res.stderr), "\n")
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &payload); err != nil {
		t.Fatalf("invalid error output %q: %v", res.stderr, err)
	}
	if payload.Error.Code != "NOT_FOUND" || payload.Error.Message != "cell 'nope' not found" {
		t.Fatalf("unexpected error %+v", payload.Error)
	}
	if !strings.Contains(payload.Error.Hint, "kinkernel list") {
		t.Fatalf("unexpected hint %q", payload.Error.Hint)
	}
}

func TestRunCell(t *testing.T) {
	tests := []struct {
		name   string
		stdin  string
		args   []string
		code   int
		stdout string
		stderr string
	}{
		{name: "argument", args: []string{"run", "sum", `{"x":1,"y":2}`}, stdout: `{"result":3}` + "\n"},
		{name: "stdin", stdin: `{"x":4,"y":5}` + "\n", args: []string{"run", "sum"}, stdout: `{"result":9}` + "\n"},
		{name: "dash", stdin: `{"x":1,"y":1}`, args: []string{"run", "sum", "-"}, stdout: `{"result":2}` + "\n"},
		{
			name:   "json envelope",
			args:   []string{"--json", "run", "sum", `{"x":1,"y":2}`},
			stdout: `{"type":"success","content":"{\"result\":3}"}` + "\n",
		},
		{
			name:   "validation error",
			args:   []string{"run", "sum", `{"x":"a","y":2}`},
			code:   1,
			stderr: "Error [EXECUTION_FAILURE]: 1 validation error for SumInput",
		},
		{name: "unknown role", args: []string{"run", "nope", `{}`}, code: 1, stderr: "NOT_FOUND"},
		{name: "missing role", args: []string{"run"}, code: 1, stderr: "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, tt.stdin, tt.args...)
			if res.code != tt.code {
				t.Fatalf("expected exit %d, got %d (%s)", tt.code, res.code, res.stderr)
			}
			if tt.stdout != "" && res.stdout != tt.stdout {
				t.Fatalf("expected stdout %q, got %q", tt.stdout, res.stdout)
			}
			if tt.stderr != "" && !strings.Contains(res.stderr, tt.stderr) {
				t.Fatalf("expected %q in stderr %q", tt.stderr, res.stderr)
			}
		})
	}
}

func TestRunCellUsesConfigOverrides(t *testing.T) {
	res := runCLI(t, "", "--set", `cells.processor={"env_vars":[{"key":"ENV_VAR_1","value":""}]}`,
		"run", "processor", `{"value1":2,"value2":"x"}`)
	if res.code != 1 || !strings.Contains(res.stderr, "ENV_VAR_1 is not set") {
		t.Fatalf("expected env failure, got %d %q", res.code, res.stderr)
	}
}

func TestRunWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kinkernel.yaml")
	content := "log:\n  level: debug\ncells:\n  shipping_label:\n    env_vars:\n      - key: ORIGIN_COUNTRY\n        value: FR\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	res := runCLI(t, "", "--config", path, "run", "shipping_label",
		`{"recipient":"Ada","to":{"street":"1 Rue","city":"Paris","postal_code":"75001","country":{"code":"FR"}},"weight_kg":1}`)
	if res.code != 0 || !strings.Contains(res.stdout, `"zone":"domestic"`) {
		t.Fatalf("unexpected result %d %q %q", res.code, res.stdout, res.stderr)
	}

	res = runCLI(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "list")
	if res.code != 1 || !strings.Contains(res.stderr, "INVALID_DEFINITION") {
		t.Fatalf("expected config error, got %d %q", res.code, res.stderr)
	}
}

func TestRunMCPList(t *testing.T) {
	res := runCLI(t, "", "mcp", "list")
	if res.code != 0 || strings.TrimSpace(res.stdout) != "no mcp servers configured" {
		t.Fatalf("unexpected output %d %q", res.code, res.stdout)
	}

	res = runCLI(t, "", "--set", "mcp.servers.down.transport=http", "--set", "mcp.servers.down.url=http://127.0.0.1:1/mcp",
		"--json", "mcp", "list")
	if res.code != 0 {
		t.Fatalf("mcp list failed: %s", res.stderr)
	}
	var payload struct {
		Failures []serverFailure `json:"failures"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &payload); err != nil {
		t.Fatalf("invalid output %q: %v", res.stdout, err)
	}
	if len(payload.Failures) != 1 || payload.Failures[0].Server != "down" {
		t.Fatalf("expected one failure, got %+v", payload.Failures)
	}

	res = runCLI(t, "", "mcp", "bogus")
	if res.code != 1 {
		t.Fatalf("expected unknown mcp command to fail")
	}
}

func TestRunMCPHealth(t *testing.T) {
	res := runCLI(t, "", "mcp", "health")
	if res.code != 0 || !strings.HasPrefix(res.stdout, "SERVER") {
		t.Fatalf("unexpected output %d %q", res.code, res.stdout)
	}

	res = runCLI(t, "", "--set", "mcp.servers.down.transport=http", "--set", "mcp.servers.down.url=http://127.0.0.1:1/mcp",
		"--json", "mcp", "health")
	if res.code != 1 || !strings.Contains(res.stderr, "UNAVAILABLE") {
		t.Fatalf("expected unavailable, got %d %q", res.code, res.stderr)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &payload); err != nil || payload.Status != "UNHEALTHY" {
		t.Fatalf("unexpected output %q", res.stdout)
	}
}

func TestParseInterleaved(t *testing.T) {
	cmd := newFlagSet("test")
	verbose := cmd.Bool("v", false, "")
	name := cmd.String("name", "", "")

	positional, err := parseInterleaved(cmd, []string{"a", "-v", "b", "--name=x", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(positional, ",") != "a,b,c" || !*verbose || *name != "x" {
		t.Fatalf("unexpected parse: %v %v %q", positional, *verbose, *name)
	}

	if _, err := parseInterleaved(newFlagSet("test"), []string{"a", "--nope"}); err == nil {
		t.Fatalf("expected unknown flag error")
	}
}

func TestRunMCPServeRejectsBadArgs(t *testing.T) {
	for _, args := range [][]string{{"mcp", "serve", "--bogus"}, {"mcp", "serve", "extra"}, {"mcp", "serve", "--http"}} {
		res := runCLI(t, "", args...)
		if res.code != 1 || !strings.Contains(res.stderr, "INVALID_INPUT") {
			t.Fatalf("%v: expected invalid argument, got %d %q", args, res.code, res.stderr)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	res := runCLI(t, "", "frobnicate")
	if res.code != 1 || !strings.Contains(res.stderr, `unknown command "frobnicate"`) {
		t.Fatalf("unexpected output %d %q", res.code, res.stderr)
	}
}
