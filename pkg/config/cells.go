// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package config

// EnvVar is one key/value pair handed to a cell instance.
type EnvVar struct {
	Key   string `koanf:"key" json:"key" yaml:"key"`
	Value string `koanf:"value" json:"value" yaml:"value"`
}

// CellConfig holds per-role settings.
type CellConfig struct {
	EnvVars []EnvVar `koanf:"env_vars" json:"env_vars" yaml:"env_vars"`
}

// Lookup returns the value of the last variable named key.
func (c CellConfig) Lookup(key string) (string, bool) {
	for i := len(c.EnvVars) - 1; i >= 0; i-- {
		if c.EnvVars[i].Key == key {
			return c.EnvVars[i].Value, true
		}
	}
	return "", false
}

// CellFor returns the settings for role; unknown roles get an empty config.
func (c *Config) CellFor(role string) CellConfig {
	if c == nil || c.Cells == nil {
		return CellConfig{}
	}
	return c.Cells[role]
}
