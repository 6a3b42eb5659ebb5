// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authgate settings from flags, an optional YAML file
// and the environment.
//
// Precedence, lowest first: flag defaults, the config file, flags set on the
// command line. Secrets never live in the file; they come from
// AUTHGATE_DATABASE_URL and AUTHGATE_REDIS_ADDR.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/authgate/internal/authcache"
	"github.com/holomush/authgate/internal/credential"
	"github.com/holomush/authgate/internal/gate"
	"github.com/holomush/authgate/internal/logging"
	"github.com/holomush/authgate/internal/proxy"
	"github.com/holomush/authgate/internal/security"
	"github.com/holomush/authgate/internal/xdg"
)

// Audit sink names.
const (
	SinkLog      = "log"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
)

// FileName is the config file looked up in the XDG config directory.
const FileName = "config.yaml"

// Flag defaults that are not owned by another package.
const (
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultLanguage    = "en"
	DefaultRedisStream = "authgate:security"
	DefaultBridgeAddr  = "127.0.0.1:25580"
)

// Config is the full authgate configuration. Field tags name the config
// file keys, which are identical to the flag names.
type Config struct {
	MinPasswordLength       int `koanf:"min-password-length" json:"min-password-length,omitempty" jsonschema:"minimum=1,description=Shortest accepted password in characters"`
	MaxPasswordLength       int `koanf:"max-password-length" json:"max-password-length,omitempty" jsonschema:"minimum=1,description=Longest accepted password in characters"`
	MaxCredentialByteLength int `koanf:"max-credential-byte-length" json:"max-credential-byte-length,omitempty" jsonschema:"minimum=1,maximum=72,description=Longest accepted password in UTF-8 bytes"`
	BcryptCost              int `koanf:"bcrypt-cost" json:"bcrypt-cost,omitempty" jsonschema:"minimum=4,maximum=31"`

	SessionTTL          time.Duration `koanf:"session-ttl" json:"session-ttl,omitempty" jsonschema:"description=How long a login stays valid"`
	SweepInterval       time.Duration `koanf:"sweep-interval" json:"sweep-interval,omitempty"`
	BruteForceThreshold int           `koanf:"brute-force-threshold" json:"brute-force-threshold,omitempty" jsonschema:"minimum=1"`
	LockoutDuration     time.Duration `koanf:"lockout-duration" json:"lockout-duration,omitempty"`
	FailureWindow       time.Duration `koanf:"failure-window" json:"failure-window,omitempty"`
	BruteForceScope     string        `koanf:"brute-force-scope" json:"brute-force-scope,omitempty" jsonschema:"enum=address,enum=player,enum=both"`
	CacheShards         int           `koanf:"cache-shards" json:"cache-shards,omitempty" jsonschema:"minimum=1"`

	AuthenticationServer string   `koanf:"authentication-server" json:"authentication-server,omitempty" jsonschema:"description=Server name or glob whose players must log in"`
	LoginCommands        []string `koanf:"login-commands" json:"login-commands,omitempty" jsonschema:"minItems=1"`
	RegisterCommands     []string `koanf:"register-commands" json:"register-commands,omitempty" jsonschema:"minItems=1"`
	LogoutCommands       []string `koanf:"logout-commands" json:"logout-commands,omitempty" jsonschema:"minItems=1"`
	Language             string   `koanf:"language" json:"language,omitempty"`
	ThrottleBurst        int      `koanf:"throttle-burst" json:"throttle-burst,omitempty" jsonschema:"minimum=1,description=Login and register commands a player may send back to back"`
	ThrottleRate         float64  `koanf:"throttle-rate" json:"throttle-rate,omitempty" jsonschema:"exclusiveMinimum=0,description=Login and register commands per second after the burst"`

	AuditSinks  []string `koanf:"audit-sinks" json:"audit-sinks,omitempty" jsonschema:"enum=log,enum=postgres,enum=redis"`
	AuditBuffer int      `koanf:"audit-buffer" json:"audit-buffer,omitempty" jsonschema:"minimum=1"`
	RedisStream string   `koanf:"redis-stream" json:"redis-stream,omitempty"`

	LogFormat   string `koanf:"log-format" json:"log-format,omitempty" jsonschema:"enum=json,enum=text"`
	LogLevel    string `koanf:"log-level" json:"log-level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	BridgeAddr  string `koanf:"bridge-addr" json:"bridge-addr,omitempty" jsonschema:"description=Listen address for proxy connections"`
	BridgeTLS   bool   `koanf:"bridge-tls" json:"bridge-tls,omitempty" jsonschema:"description=Require mutual TLS on the bridge"`
	CertsDir    string `koanf:"certs-dir" json:"certs-dir,omitempty" jsonschema:"description=Bridge TLS material; empty means XDG_CONFIG_HOME/authgate/certs"`
	MetricsAddr string `koanf:"metrics-addr" json:"metrics-addr,omitempty" jsonschema:"description=Observability listen address; empty disables it"`

	Secrets Secrets `koanf:"-" json:"-"`
}

// Secrets are read from the environment only.
type Secrets struct {
	DatabaseURL   string `env:"AUTHGATE_DATABASE_URL"`
	RedisAddr     string `env:"AUTHGATE_REDIS_ADDR"`
	RedisPassword string `env:"AUTHGATE_REDIS_PASSWORD"`
}

// RegisterFlags adds every config key to fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("min-password-length", credential.DefaultMinPasswordLength, "shortest accepted password")
	fs.Int("max-password-length", credential.DefaultMaxPasswordLength, "longest accepted password")
	fs.Int("max-credential-byte-length", credential.DefaultMaxCredentialByteLength, "longest accepted password in bytes")
	fs.Int("bcrypt-cost", bcrypt.DefaultCost, "bcrypt cost for new password hashes")

	fs.Duration("session-ttl", authcache.DefaultSessionTTL, "how long a login stays valid (negative disables expiry)")
	fs.Duration("sweep-interval", authcache.DefaultSweepInterval, "how often expired sessions and lockouts are purged")
	fs.Int("brute-force-threshold", authcache.DefaultThreshold, "failed attempts before lockout")
	fs.Duration("lockout-duration", authcache.DefaultLockoutDuration, "how long a lockout lasts")
	fs.Duration("failure-window", authcache.DefaultLockoutDuration, "how long failures count toward a lockout")
	fs.String("brute-force-scope", authcache.ScopeAddress, "failure counter scope (address, player, both)")
	fs.Int("cache-shards", authcache.DefaultShards, "authorization cache shard count")

	fs.String("authentication-server", gate.DefaultAuthenticationServer, "server name or glob whose players must log in")
	fs.StringSlice("login-commands", gate.DefaultLoginCommands, "login command names")
	fs.StringSlice("register-commands", gate.DefaultRegisterCommands, "register command names")
	fs.StringSlice("logout-commands", proxy.DefaultLogoutCommands, "logout command names")
	fs.String("language", DefaultLanguage, "message catalog language")
	fs.Int("throttle-burst", proxy.DefaultThrottleBurst, "login and register commands a player may send back to back")
	fs.Float64("throttle-rate", proxy.DefaultThrottleRate, "login and register commands per second after the burst")

	fs.StringSlice("audit-sinks", []string{SinkLog}, "security audit sinks (log, postgres, redis)")
	fs.Int("audit-buffer", security.DefaultBufferSize, "queued audit events before dropping")
	fs.String("redis-stream", DefaultRedisStream, "redis stream for security events")

	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("bridge-addr", DefaultBridgeAddr, "listen address for proxy connections")
	fs.Bool("bridge-tls", false, "require mutual TLS on the bridge")
	fs.String("certs-dir", "", "bridge TLS directory (default: XDG_CONFIG_HOME/authgate/certs)")
	fs.String("metrics-addr", DefaultMetricsAddr, "observability listen address (empty disables)")
}

// DefaultPath is the config file used when --config is not given.
func DefaultPath() (string, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load builds a Config from fs and the YAML file at path. An empty path
// falls back to DefaultPath, which may be absent; an explicit path must
// exist. The file is schema-checked before it is merged.
func Load(fs *pflag.FlagSet, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	k := koanf.New(".")
	if _, err := os.Stat(path); err == nil {
		if err := ValidateFile(path); err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	} else if explicit {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}

	// With k passed in, unchanged flags only fill keys the file left unset.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}

	var cfg Config
	var err error
	if err = k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	if cfg.Secrets, err = LoadSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSecrets reads the AUTHGATE_* secrets. Unset variables stay empty.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Secrets{}, oops.Code("CONFIG_LOAD_FAILED").Errorf("reading environment: %v", err)
	}
	return s, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if c.MinPasswordLength < 1 {
		return invalid("min-password-length", "must be at least 1")
	}
	if c.MaxPasswordLength < c.MinPasswordLength {
		return invalid("max-password-length", "must not be below min-password-length (%d)", c.MinPasswordLength)
	}
	if c.MaxCredentialByteLength < 1 || c.MaxCredentialByteLength > credential.DefaultMaxCredentialByteLength {
		return invalid("max-credential-byte-length", "must be between 1 and %d", credential.DefaultMaxCredentialByteLength)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return invalid("bcrypt-cost", "must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.BruteForceThreshold < 1 {
		return invalid("brute-force-threshold", "must be at least 1")
	}
	if c.LockoutDuration <= 0 {
		return invalid("lockout-duration", "must be positive")
	}
	if c.FailureWindow <= 0 {
		return invalid("failure-window", "must be positive")
	}
	if c.SweepInterval <= 0 {
		return invalid("sweep-interval", "must be positive")
	}
	if _, err := authcache.KeyFuncByName(c.BruteForceScope); err != nil {
		return invalid("brute-force-scope", "%v", err)
	}
	if c.BridgeAddr == "" {
		return invalid("bridge-addr", "must not be empty")
	}
	if c.AuthenticationServer == "" {
		return invalid("authentication-server", "must not be empty")
	}
	for key, names := range map[string][]string{
		"login-commands":    c.LoginCommands,
		"register-commands": c.RegisterCommands,
		"logout-commands":   c.LogoutCommands,
	} {
		if len(names) == 0 {
			return invalid(key, "needs at least one command")
		}
	}
	if c.ThrottleBurst < 1 {
		return invalid("throttle-burst", "must be at least 1")
	}
	if c.ThrottleRate < proxy.MinThrottleRate {
		return invalid("throttle-rate", "must be at least %g", proxy.MinThrottleRate)
	}
	for _, sink := range c.AuditSinks {
		if !slices.Contains([]string{SinkLog, SinkPostgres, SinkRedis}, sink) {
			return invalid("audit-sinks", "unknown sink %q", sink)
		}
	}
	if c.UsesSink(SinkPostgres) && c.Secrets.DatabaseURL == "" {
		return invalid("audit-sinks", "postgres sink requires AUTHGATE_DATABASE_URL")
	}
	if c.UsesSink(SinkRedis) && c.Secrets.RedisAddr == "" {
		return invalid("audit-sinks", "redis sink requires AUTHGATE_REDIS_ADDR")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid("log-format", "must be json or text, got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log-level", "%v", err)
	}
	return nil
}

// UsesSink reports whether the named audit sink is enabled.
func (c *Config) UsesSink(name string) bool {
	return slices.Contains(c.AuditSinks, name)
}

// Credentials returns the password bounds.
func (c *Config) Credentials() credential.Config {
	return credential.Config{
		MinPasswordLength:       c.MinPasswordLength,
		MaxPasswordLength:       c.MaxPasswordLength,
		MaxCredentialByteLength: c.MaxCredentialByteLength,
	}
}

// Cache returns the authorization cache settings.
func (c *Config) Cache() (authcache.Config, error) {
	keyFunc, err := authcache.KeyFuncByName(c.BruteForceScope)
	if err != nil {
		return authcache.Config{}, err
	}
	return authcache.Config{
		SessionTTL:      c.SessionTTL,
		Threshold:       c.BruteForceThreshold,
		LockoutDuration: c.LockoutDuration,
		FailureWindow:   c.FailureWindow,
		Shards:          c.CacheShards,
		KeyFunc:         keyFunc,
	}, nil
}

// Gate returns the command gate settings.
func (c *Config) Gate() gate.Config {
	return gate.Config{
		AuthenticationServer: c.AuthenticationServer,
		LoginCommands:        c.LoginCommands,
		RegisterCommands:     c.RegisterCommands,
	}
}

// Throttle returns the credential command throttle settings.
func (c *Config) Throttle() proxy.ThrottleConfig {
	return proxy.ThrottleConfig{Burst: c.ThrottleBurst, Rate: c.ThrottleRate}
}

// BridgeCertsDir returns the certs directory, falling back to the XDG
// default.
func (c *Config) BridgeCertsDir() (string, error) {
	if c.CertsDir != "" {
		return c.CertsDir, nil
	}
	return xdg.CertsDir()
}
