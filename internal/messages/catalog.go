// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package messages renders player-facing text from message keys.
package messages

import (
	"embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var langFS embed.FS

// DefaultLanguage is the language bundled with the binary.
const DefaultLanguage = "en"

// Catalog renders a message key with positional arguments.
type Catalog interface {
	Get(key string, args ...any) string
}

// YAMLCatalog is a flat key/template table. Templates reference arguments
// positionally as {0}, {1}, ...; unknown keys render as the key itself.
type YAMLCatalog struct {
	language  string
	templates map[string]string
}

// Load parses a flat YAML mapping of message keys to templates.
func Load(language string, data []byte) (*YAMLCatalog, error) {
	var templates map[string]string
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, oops.Code("MESSAGES_PARSE_FAILED").
			With("language", language).
			Wrap(err)
	}
	if len(templates) == 0 {
		return nil, oops.Code("MESSAGES_EMPTY").
			With("language", language).
			Errorf("message catalog %q has no entries", language)
	}
	return &YAMLCatalog{language: language, templates: templates}, nil
}

// Bundled loads one of the catalogs embedded in the binary.
func Bundled(language string) (*YAMLCatalog, error) {
	data, err := langFS.ReadFile("lang/" + language + ".yaml")
	if err != nil {
		return nil, oops.Code("MESSAGES_UNKNOWN_LANGUAGE").
			With("language", language).
			Wrap(err)
	}
	return Load(language, data)
}

// Default returns the bundled English catalog.
func Default() *YAMLCatalog {
	c, err := Bundled(DefaultLanguage)
	if err != nil {
		// The English catalog is compiled in; failing here is a build defect.
		panic(err)
	}
	return c
}

// Language returns the catalog's language tag.
func (c *YAMLCatalog) Language() string {
	return c.language
}

// Has reports whether the catalog defines key.
func (c *YAMLCatalog) Has(key string) bool {
	_, ok := c.templates[key]
	return ok
}

// Get renders key with args.
func (c *YAMLCatalog) Get(key string, args ...any) string {
	tmpl, ok := c.templates[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}

	pairs := make([]string, 0, len(args)*2)
	for i, arg := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", fmt.Sprint(arg))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
