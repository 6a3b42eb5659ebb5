// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package command splits raw proxy command text into a name and arguments.
package command

import (
	"strings"

	"github.com/samber/oops"
)

// ParsedCommand represents a parsed command input.
type ParsedCommand struct {
	Name string   // command name, lowercased, without a leading slash
	Args []string // whitespace-separated arguments, unmodified
	Rest string   // unparsed argument string (preserves internal whitespace)
	Raw  string   // original input
}

// Parse splits raw input into command name and arguments.
// The command name is the first whitespace-delimited token. A single leading
// slash is dropped and the name is lowercased; arguments keep their case.
func Parse(input string) (*ParsedCommand, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, oops.Code(CodeEmptyInput).Errorf("no command provided")
	}

	name, rest := trimmed, ""
	if idx := strings.IndexAny(trimmed, " \t"); idx != -1 {
		name = trimmed[:idx]
		rest = strings.TrimLeft(trimmed[idx+1:], " \t")
	}

	name = strings.ToLower(strings.TrimPrefix(name, "/"))
	if name == "" {
		return nil, oops.Code(CodeEmptyInput).
			With("input", input).
			Errorf("no command name provided")
	}

	return &ParsedCommand{
		Name: name,
		Args: strings.Fields(rest),
		Rest: rest,
		Raw:  input,
	}, nil
}

// Arity returns the number of arguments.
func (p *ParsedCommand) Arity() int {
	return len(p.Args)
}
