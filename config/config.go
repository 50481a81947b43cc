// Package config loads the YAML file cmd/c12client reads its channel and
// engine options from, grounded directly on the teacher's config.Load
// (os.ReadFile + yaml.Unmarshal over a struct of defaults).
package config

import (
	"encoding/hex"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/acse"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/engine"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/retry"
)

// Config is the top-level YAML document shape.
type Config struct {
	Channel  ChannelConfig  `yaml:"channel"`
	Session  SessionConfig  `yaml:"session"`
	Security SecurityConfig `yaml:"security"`
	Retry    RetryConfig    `yaml:"retry"`
	Diag     DiagConfig     `yaml:"diag"`
	Logs     LogsConfig     `yaml:"logs"`
}

// ChannelConfig addresses the meter and bounds the transport timeouts.
type ChannelConfig struct {
	Address          string `yaml:"address"`
	ReceiveTimeoutMs uint32 `yaml:"receive_timeout_ms"`
	WriteTimeoutMs   uint32 `yaml:"write_timeout_ms"`
}

// SessionConfig mirrors spec.md §3's session-establishment parameters.
type SessionConfig struct {
	ApplicationContext string        `yaml:"application_context"`
	CalledAPTitle      string        `yaml:"called_ap_title"`
	CallingAPTitle     string        `yaml:"calling_ap_title"`
	Sessionless        bool          `yaml:"sessionless"`
	UserID             uint16        `yaml:"user_id"`
	User               string        `yaml:"user"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	KeepSessionAlive   bool          `yaml:"keep_session_alive"`
	UseReadKeepAlive   bool          `yaml:"use_read_keep_alive"`
	OnePerApdu         bool          `yaml:"one_per_apdu"`
	MeterLittleEndian  bool          `yaml:"meter_little_endian"`
}

// SecurityConfig mirrors spec.md §4.F's security mode and credential
// fallback lists.
type SecurityConfig struct {
	Mode             string   `yaml:"mode"` // "clear", "clear-auth", "cipher-auth"
	IssueOnStart     bool     `yaml:"issue_on_start"`
	PasswordList     []string `yaml:"password_list"`
	SecurityKeysHex  []string `yaml:"security_keys_hex"`
}

// RetryConfig mirrors retry.Policy, in YAML-friendly form.
type RetryConfig struct {
	LinkRetries          int  `yaml:"link_retries"`
	ApplicationRetries   int  `yaml:"application_retries"`
	ProcedureRetries     int  `yaml:"procedure_retries"`
	EndSessionOnAppError bool `yaml:"end_session_on_app_error"`
}

// DiagConfig optionally starts the diag HTTP introspection server.
type DiagConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LogsConfig mirrors the teacher's LogsConfig, scaled down to what a log
// monitor needs.
type LogsConfig struct {
	Level string `yaml:"level"`
}

// Load reads path and unmarshals it over a set of reasonable defaults, the
// same shape as the teacher's config.Load.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Channel: ChannelConfig{
			ReceiveTimeoutMs: 5000,
			WriteTimeoutMs:   5000,
		},
		Session: SessionConfig{
			ApplicationContext: "2.16.124.113620.1.22",
			CalledAPTitle:      ".1",
			CallingAPTitle:     ".2",
			IdleTimeout:        60 * time.Second,
		},
		Security: SecurityConfig{
			Mode: "clear",
		},
		Retry: RetryConfig{
			LinkRetries:        3,
			ApplicationRetries: 3,
			ProcedureRetries:   3,
		},
		Logs: LogsConfig{
			Level: "info",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EngineConfig translates the loaded YAML into an engine.Config, applying
// the loaded retry/security knobs on top of engine.DefaultConfig.
func (c *Config) EngineConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()

	cfg.ApplicationContext = c.Session.ApplicationContext
	cfg.CalledAPTitle = c.Session.CalledAPTitle
	cfg.CallingAPTitle = c.Session.CallingAPTitle
	cfg.Sessionless = c.Session.Sessionless
	cfg.UserID = c.Session.UserID
	cfg.User = c.Session.User
	cfg.SessionIdleTimeout = c.Session.IdleTimeout
	cfg.KeepSessionAlive = c.Session.KeepSessionAlive
	cfg.UseReadInKeepSessionAlive = c.Session.UseReadKeepAlive
	cfg.OnePerApdu = c.Session.OnePerApdu
	cfg.MeterLittleEndian = c.Session.MeterLittleEndian

	cfg.SecurityMode = securityModeFromString(c.Security.Mode)
	cfg.IssueSecurityOnStartSession = c.Security.IssueOnStart
	cfg.PasswordList = c.Security.PasswordList

	keys, err := decodeHexKeys(c.Security.SecurityKeysHex)
	if err != nil {
		return cfg, err
	}
	cfg.SecurityKeyList = keys

	policy := retry.DefaultPolicy()
	policy.LinkRetries = c.Retry.LinkRetries
	policy.AppRetries = c.Retry.ApplicationRetries
	policy.ProcedureRetries = c.Retry.ProcedureRetries
	policy.EndSessionOnApplicationLayerError = c.Retry.EndSessionOnAppError
	cfg.RetryPolicy = policy
	cfg.ReceiveTimeoutMs = c.Channel.ReceiveTimeoutMs
	cfg.WriteTimeoutMs = c.Channel.WriteTimeoutMs

	return cfg, nil
}

func decodeHexKeys(hexKeys []string) ([][]byte, error) {
	keys := make([][]byte, 0, len(hexKeys))
	for _, h := range hexKeys {
		k, err := hex.DecodeString(h)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func securityModeFromString(s string) acse.SecurityMode {
	switch s {
	case "clear-auth":
		return acse.SecurityClearAuth
	case "cipher-auth":
		return acse.SecurityCipherAuth
	default:
		return acse.SecurityClear
	}
}
