// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package credential holds the stateless rule checks applied to passwords and
// command arguments before any credential is verified or stored.
package credential

import (
	"unicode/utf8"

	"github.com/holomush/authgate/internal/messages"
)

// DefaultMaxCredentialByteLength is the bcrypt input limit. Anything longer
// is silently truncated by the hash, so it is rejected up front.
const DefaultMaxCredentialByteLength = 72

// Default password length bounds, in characters.
const (
	DefaultMinPasswordLength = 4
	DefaultMaxPasswordLength = 71
)

// Config bounds password length.
type Config struct {
	MinPasswordLength       int
	MaxPasswordLength       int
	MaxCredentialByteLength int // 0 means DefaultMaxCredentialByteLength
}

// DefaultConfig returns the bounds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MinPasswordLength:       DefaultMinPasswordLength,
		MaxPasswordLength:       DefaultMaxPasswordLength,
		MaxCredentialByteLength: DefaultMaxCredentialByteLength,
	}
}

func (c Config) byteLimit() int {
	if c.MaxCredentialByteLength <= 0 {
		return DefaultMaxCredentialByteLength
	}
	return c.MaxCredentialByteLength
}

// Outcome is the result of a rule check. An invalid outcome carries a
// message key and its arguments; the text itself is rendered elsewhere.
type Outcome struct {
	Valid bool
	Key   string
	Args  []any
}

// Valid returns a passing outcome.
func Valid() Outcome {
	return Outcome{Valid: true}
}

// Invalid returns a failing outcome for key.
func Invalid(key string, args ...any) Outcome {
	return Outcome{Key: key, Args: args}
}

// ValidatePassword checks emptiness, character length, then UTF-8 byte
// length, and reports the first failure.
func ValidatePassword(password string, cfg Config) Outcome {
	if password == "" {
		return Invalid(messages.KeyPasswordEmpty)
	}

	length := utf8.RuneCountInString(password)
	if length < cfg.MinPasswordLength {
		return Invalid(messages.KeyPasswordTooShort, cfg.MinPasswordLength)
	}
	if cfg.MaxPasswordLength > 0 && length > cfg.MaxPasswordLength {
		return Invalid(messages.KeyPasswordTooLong, cfg.MaxPasswordLength)
	}

	if limit := cfg.byteLimit(); len(password) > limit {
		return Invalid(messages.KeyPasswordTooManyBytes, len(password), limit)
	}

	return Valid()
}

// ValidateMatch requires password and confirmation to be byte-for-byte equal.
func ValidateMatch(password, confirmation string) Outcome {
	if password != confirmation {
		return Invalid(messages.KeyPasswordsNoMatch)
	}
	return Valid()
}

// ValidateArgumentCount requires exactly expected arguments. usageKey is the
// message shown when the count is wrong.
func ValidateArgumentCount(args []string, expected int, usageKey string) Outcome {
	if len(args) != expected {
		return Invalid(usageKey)
	}
	return Valid()
}
