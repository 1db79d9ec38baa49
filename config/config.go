// Package config loads the service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/zircuit-labs/ethquery/internal/ethapi"
)

// envPrefix scopes the environment overrides. A double underscore separates
// nesting levels so single underscores stay part of the key, e.g.
// ETHQUERY_GASPRICE__BLOCKS=30 sets gasprice.blocks and
// ETHQUERY_SIMULATION__GAS_CAP=25000000 sets simulation.gas_cap.
const envPrefix = "ETHQUERY_"

// Load reads the configuration file at path (skipped when empty or missing)
// and applies environment overrides on top. Unset values keep the component
// defaults.
func Load(path string) (ethapi.ServiceConfig, error) {
	var cfg ethapi.ServiceConfig

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return cfg, fmt.Errorf("load env overrides: %w", err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
