// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"regexp"
	"strings"

	"github.com/samber/oops"
)

// MaxNameLength is the maximum length for command and alias names.
const MaxNameLength = 20

// namePattern matches a configurable command name: a letter followed by
// letters, digits, underscores or hyphens.
var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-]{0,19}$`)

// ValidateCommandName validates a configured command name.
func ValidateCommandName(name string) error {
	return validateName(name, "command")
}

// ValidateAliasName validates a configured alias.
func ValidateAliasName(name string) error {
	return validateName(name, "alias")
}

// ValidateNames validates a primary command name followed by its aliases and
// rejects duplicates, compared case-insensitively.
func ValidateNames(names []string) error {
	if len(names) == 0 {
		return oops.Code(CodeInvalidName).Errorf("at least one command name is required")
	}

	seen := make(map[string]bool, len(names))
	for i, name := range names {
		kind := "alias"
		if i == 0 {
			kind = "command"
		}
		if err := validateName(name, kind); err != nil {
			return err
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if seen[key] {
			return oops.Code(CodeInvalidName).
				With("name", name).
				Errorf("duplicate command name %q", name)
		}
		seen[key] = true
	}
	return nil
}

func validateName(name, kind string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return oops.Code(CodeInvalidName).
			With("kind", kind).
			Errorf("%s name cannot be empty", kind)
	}

	if len(trimmed) > MaxNameLength {
		return oops.Code(CodeInvalidName).
			With("kind", kind).
			With("length", len(trimmed)).
			With("max", MaxNameLength).
			Errorf("%s name exceeds maximum length of %d", kind, MaxNameLength)
	}

	if !namePattern.MatchString(trimmed) {
		return oops.Code(CodeInvalidName).
			With("kind", kind).
			With("name", trimmed).
			Errorf("%s name must start with a letter and contain only letters, digits, underscores or hyphens", kind)
	}

	return nil
}
