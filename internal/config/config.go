package config

import "time"

// Config holds client configuration values.
type Config struct {
	ServerURL          string        `mapstructure:"server_url" yaml:"server_url"`
	UserID             string        `mapstructure:"user_id" yaml:"user_id"`
	LogLevel           string        `mapstructure:"log_level" yaml:"log_level"`
	JournalPath        string        `mapstructure:"journal_path" yaml:"journal_path"`
	BackoffBase        time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffCap         time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap"`
	OutboxMaxAttempts  int           `mapstructure:"outbox_max_attempts" yaml:"outbox_max_attempts"`
	OutboxAckTimeout   time.Duration `mapstructure:"outbox_ack_timeout" yaml:"outbox_ack_timeout"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout" yaml:"negotiation_timeout"`
	TypingTTL          time.Duration `mapstructure:"typing_ttl" yaml:"typing_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerURL:          "ws://localhost:8080/ws",
		LogLevel:           "info",
		JournalPath:        "wirechat-outbox.db",
		BackoffBase:        500 * time.Millisecond,
		BackoffCap:         30 * time.Second,
		OutboxMaxAttempts:  5,
		OutboxAckTimeout:   20 * time.Second,
		NegotiationTimeout: 30 * time.Second,
		TypingTTL:          5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.ServerURL != "" {
		c.ServerURL = other.ServerURL
	}
	if other.UserID != "" {
		c.UserID = other.UserID
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.JournalPath != "" {
		c.JournalPath = other.JournalPath
	}
	if other.BackoffBase != 0 {
		c.BackoffBase = other.BackoffBase
	}
	if other.BackoffCap != 0 {
		c.BackoffCap = other.BackoffCap
	}
	if other.OutboxMaxAttempts != 0 {
		c.OutboxMaxAttempts = other.OutboxMaxAttempts
	}
	if other.OutboxAckTimeout != 0 {
		c.OutboxAckTimeout = other.OutboxAckTimeout
	}
	if other.NegotiationTimeout != 0 {
		c.NegotiationTimeout = other.NegotiationTimeout
	}
	if other.TypingTTL != 0 {
		c.TypingTTL = other.TypingTTL
	}
}
