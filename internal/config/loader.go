package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the agent backends the registry knows how to build.
var ValidProviderNames = []string{"gemini-live", "openai-realtime", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Defaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Agent.Provider == "" {
		errs = append(errs, errors.New("agent.provider is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Agent.Provider) {
		errs = append(errs, fmt.Errorf("agent.provider %q is unknown; valid values: %v", cfg.Agent.Provider, ValidProviderNames))
	}
	if cfg.Agent.Provider != "" && cfg.Agent.Provider != "mock" && cfg.Agent.APIKey == "" {
		errs = append(errs, fmt.Errorf("agent.api_key is required for provider %q", cfg.Agent.Provider))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size must be positive, got %d", cfg.Audio.FrameSize))
	}

	seen := make(map[string]int, len(cfg.Directory))
	for i, e := range cfg.Directory {
		prefix := fmt.Sprintf("directory[%d]", i)
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		}
		if e.DisplayName == "" {
			errs = append(errs, fmt.Errorf("%s.display_name is required", prefix))
		}
		if j, dup := seen[e.ID]; dup && e.ID != "" {
			errs = append(errs, fmt.Errorf("%s.id %q duplicates directory[%d]", prefix, e.ID, j))
		} else {
			seen[e.ID] = i
		}
	}

	return errors.Join(errs...)
}
