package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix scopes which environment variables feed configuration.
// Unprefixed process environment (PATH, XDG_DATA_DIRS, CI variables)
// must never leak into koanf keys.
const envPrefix = "LOGTRIAGE_"

// Load loads configuration from an optional YAML file, then overrides with
// LOGTRIAGE_-prefixed environment variables. Pass an empty path to skip the
// file layer.
//
// After the prefix, variables use underscore separators and are uppercased.
// The transformer splits on the first underscore into section and field:
//
//	LOGTRIAGE_STREAM_DEAD_LETTER    -> stream.dead_letter
//	LOGTRIAGE_AGENT_MAX_ITERATIONS  -> agent.max_iterations
//	LOGTRIAGE_MODELGW_UPSTREAM_KEY  -> modelgw.upstream_key
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// transformEnvKey maps LOGTRIAGE_SECTION_FIELD_NAME to section.field_name.
// Splitting on the first underscore only keeps compound field names intact.
func transformEnvKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}
