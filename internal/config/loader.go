package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// envPrefix namespaces reflectd's environment variables.
const envPrefix = "REFLECTD_"

// nestedSections maps env-key prefixes of config subsections to their dotted
// paths, so their fields stay reachable from the environment. Keys are
// matched after the env prefix is stripped and lowercased.
var nestedSections = map[string]string{
	"logging_caller_":        "logging.caller",
	"recordstore_firestore_": "recordstore.firestore",
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (REFLECTD_SESSION_COMPLETED_BUFFER, ...)
//  2. YAML config file (~/.config/reflectd/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path is used; a missing file is not an error, defaults apply.
//
// Environment variables use the section_field pattern after the prefix:
//
//	REFLECTD_SESSION_MAX_DURATION_FACTOR -> session.max_duration_factor
//	REFLECTD_EMBEDDINGS_BASE_URL         -> embeddings.base_url
//	REFLECTD_ARTIFACTS_DEFAULT_TTL       -> artifacts.default_ttl
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "reflectd", "config.yaml")
	}

	// Load from the YAML file if it exists.
	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the file descriptor to avoid a
		// TOCTOU race between the checks and the read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables. The prefix is stripped, then
	// the first underscore splits section from field:
	//
	//	REFLECTD_SESSION_COMPLETED_BUFFER -> session.completed_buffer
	//
	// Subsections listed in nestedSections split one level deeper:
	//
	//	REFLECTD_LOGGING_CALLER_ENABLED -> logging.caller.enabled
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		for prefix, path := range nestedSections {
			if strings.HasPrefix(lower, prefix) {
				return path + "." + strings.TrimPrefix(lower, prefix)
			}
		}
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
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

// Load loads configuration from the default path and environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}
