// Package config provides the configuration schema, loader, and agent
// provider registry for the Voxhall voice client.
package config

import (
	"time"

	"github.com/voxhall/voxhall/internal/caller"
	"github.com/voxhall/voxhall/internal/directory"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Voxhall.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Agent     AgentConfig       `yaml:"agent"`
	Session   SessionConfig     `yaml:"session"`
	Audio     AudioConfig       `yaml:"audio"`
	Caller    caller.Info       `yaml:"caller"`
	Directory []directory.Entry `yaml:"directory"`
}

// ServerConfig holds logging and debug endpoint settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address of the Prometheus /metrics endpoint
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// AgentConfig selects and configures the remote agent provider.
type AgentConfig struct {
	// Provider selects the registered agent backend (e.g., "gemini-live",
	// "openai-realtime").
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Leave empty to use
	// the built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier.
	Voice string `yaml:"voice"`

	// SystemPrompt is the agent persona.
	SystemPrompt string `yaml:"system_prompt"`

	// InputTranscription and OutputTranscription toggle the incremental
	// transcript streams. Both default to enabled when omitted.
	InputTranscription  *bool `yaml:"input_transcription"`
	OutputTranscription *bool `yaml:"output_transcription"`
}

// InputTranscriptionEnabled resolves the default for the input stream.
func (a AgentConfig) InputTranscriptionEnabled() bool {
	return a.InputTranscription == nil || *a.InputTranscription
}

// OutputTranscriptionEnabled resolves the default for the output stream.
func (a AgentConfig) OutputTranscriptionEnabled() bool {
	return a.OutputTranscription == nil || *a.OutputTranscription
}

// SessionConfig holds conversation lifecycle settings.
type SessionConfig struct {
	// ResponseTimeout bounds how long a completed caller turn may wait for
	// the agent's reply before the session fails. Default: 30s.
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// AutoRelisten reopens the microphone as soon as the agent finishes its
	// turn instead of waiting for a manual restart. Default: false.
	AutoRelisten bool `yaml:"auto_relisten"`
}

// AudioConfig holds capture and playback device settings.
type AudioConfig struct {
	// CaptureDevice names the input device. Empty selects the system default.
	CaptureDevice string `yaml:"capture_device"`

	// PlaybackDevice names the output device. Empty selects the system
	// default.
	PlaybackDevice string `yaml:"playback_device"`

	// SampleRate is the capture rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per capture frame. Default: 4096.
	FrameSize int `yaml:"frame_size"`

	// TurnSilenceThreshold is the RMS energy below which a frame counts as
	// silence. Default: 0.01.
	TurnSilenceThreshold float64 `yaml:"turn_silence_threshold"`

	// TurnSilenceHangover is how long silence must persist before the
	// caller's turn ends. Default: 1200ms.
	TurnSilenceHangover time.Duration `yaml:"turn_silence_hangover"`
}

// Defaults fills in zero-valued fields that have non-zero defaults.
func (c *Config) Defaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Session.ResponseTimeout <= 0 {
		c.Session.ResponseTimeout = 30 * time.Second
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FrameSize <= 0 {
		c.Audio.FrameSize = 4096
	}
	if c.Audio.TurnSilenceThreshold <= 0 {
		c.Audio.TurnSilenceThreshold = 0.01
	}
	if c.Audio.TurnSilenceHangover <= 0 {
		c.Audio.TurnSilenceHangover = 1200 * time.Millisecond
	}
}
