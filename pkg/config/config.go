// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads kinkernel settings from defaults, a YAML file, the
// environment and command-line overrides, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is stripped from environment variables before they are mapped
// onto keys: KINKERNEL_LOG_LEVEL sets log.level and
// KINKERNEL_TELEMETRY_OTLP_ENDPOINT sets telemetry.otlp_endpoint.
const EnvPrefix = "KINKERNEL_"

type Config struct {
	Log       LogConfig             `koanf:"log"`
	Telemetry TelemetryConfig       `koanf:"telemetry"`
	Cell      CellDefaults          `koanf:"cell"`
	MCP       MCPConfig             `koanf:"mcp"`
	Cells     map[string]CellConfig `koanf:"cells"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter           string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint       string `koanf:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds"`
}

// CellDefaults apply to every cell instance the process creates.
type CellDefaults struct {
	// TimeoutSeconds bounds the execution step; 0 disables the bound.
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

// Timeout returns TimeoutSeconds as a duration.
func (c CellDefaults) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MCPConfig controls the MCP server exposing local cells and the remote
// MCP servers whose tools are imported as cells.
type MCPConfig struct {
	Name      string                     `koanf:"name"`
	Version   string                     `koanf:"version"`
	Transport string                     `koanf:"transport"` // stdio, http
	Addr      string                     `koanf:"addr"`
	Servers   map[string]MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig describes a remote MCP server.
type MCPServerConfig struct {
	Transport      string            `koanf:"transport"` // stdio, http
	Command        string            `koanf:"command"`
	Args           []string          `koanf:"args"`
	Env            map[string]string `koanf:"env"`
	URL            string            `koanf:"url"`
	TimeoutSeconds int               `koanf:"timeout_seconds"`
}

// Timeout returns TimeoutSeconds as a duration.
func (s MCPServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_insecure", false)
	k.Set("telemetry.otlp_timeout_seconds", 10)
	k.Set("cell.timeout_seconds", 0)
	k.Set("mcp.name", "kinkernel")
	k.Set("mcp.version", "0.1.0")
	k.Set("mcp.transport", "stdio")
	k.Set("mcp.addr", "localhost:8080")
}

// Load reads the configuration from defaults, the YAML file at path (when
// not empty) and KINKERNEL_* environment variables.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithCLI is Load driven by command-line arguments. It understands
// --config <path> and any number of --set key=value overrides; values are
// parsed as YAML, so --set 'cells.processor={"env_vars":[...]}' works.
// Other arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	path, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(path, overrides)
}

type override struct {
	key   string
	value any
}

func load(path string, overrides []override) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for _, o := range overrides {
		if err := k.Set(o.key, o.value); err != nil {
			return nil, fmt.Errorf("apply --set %s: %w", o.key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps the first underscore to the section separator and keeps the
// rest, so multi-word keys like otlp_endpoint survive.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

func parseCLIOverrides(args []string) (string, []override, error) {
	var (
		path      string
		overrides []override
	)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, inline := strings.Cut(arg, "=")
		if name != "--config" && name != "--set" {
			continue
		}
		if !inline {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}

		if name == "--config" {
			path = value
			continue
		}
		key, raw, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return "", nil, fmt.Errorf("invalid --set %q: expected key=value", value)
		}
		overrides = append(overrides, override{key: key, value: parseValue(raw)})
	}
	return path, overrides, nil
}

func parseValue(raw string) any {
	var v any
	if err := yamlv3.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}

// Validate rejects settings no component can act on.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter: unknown exporter %q", c.Telemetry.Exporter)
	}
	switch c.MCP.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("mcp.transport: unknown transport %q", c.MCP.Transport)
	}
	if c.Cell.TimeoutSeconds < 0 {
		return fmt.Errorf("cell.timeout_seconds: must not be negative")
	}
	for name, server := range c.MCP.Servers {
		switch server.Transport {
		case "stdio":
			if server.Command == "" {
				return fmt.Errorf("mcp.servers.%s: stdio transport requires command", name)
			}
		case "http":
			if server.URL == "" {
				return fmt.Errorf("mcp.servers.%s: http transport requires url", name)
			}
		default:
			return fmt.Errorf("mcp.servers.%s: unknown transport %q", name, server.Transport)
		}
	}
	for role, cell := range c.Cells {
		for i, v := range cell.EnvVars {
			if v.Key == "" {
				return fmt.Errorf("cells.%s.env_vars[%d]: key is required", role, i)
			}
		}
	}
	return nil
}
