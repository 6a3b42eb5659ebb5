// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package gate decides whether a player may run a command on the proxy.
//
// The gate keeps no state of its own. Whether a player is authenticated is
// read from the authorization cache on every invocation, so a decision is a
// pure function of the cache at that moment plus static policy.
package gate

import (
	"log/slog"
	"strings"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/command"
	"github.com/holomush/authgate/internal/messages"
	"github.com/holomush/authgate/internal/netaddr"
)

// DefaultAuthenticationServer is the server whose players are gated.
const DefaultAuthenticationServer = "auth"

// Default command names. Aliases such as "l" are opt-in; the first entry of
// a configured list is the primary name.
var (
	DefaultLoginCommands    = []string{"login"}
	DefaultRegisterCommands = []string{"register"}
)

// Arity of the recognized authentication commands.
const (
	LoginArgs    = 1 // login <password>
	RegisterArgs = 2 // register <password> <confirmation>
)

// Authorizer reports whether a player holds a live session bound to addr.
// *authcache.Cache implements it.
type Authorizer interface {
	IsAuthorized(playerID uuid.UUID, addr netaddr.Address) bool
}

// Config configures a Gate.
type Config struct {
	// AuthenticationServer is matched case-insensitively against the
	// player's current server. Glob syntax is allowed; a plain name only
	// matches itself.
	AuthenticationServer string

	LoginCommands    []string
	RegisterCommands []string
}

// Intent is what a command name means to the gate.
type Intent int

// Intents.
const (
	IntentOther Intent = iota
	IntentLogin
	IntentRegister
)

func (i Intent) String() string {
	switch i {
	case IntentLogin:
		return "login"
	case IntentRegister:
		return "register"
	default:
		return "other"
	}
}

// Reason explains a decision. It labels the decisions metric.
type Reason string

// Decision reasons.
const (
	ReasonNoServer      Reason = "no_server"
	ReasonOutsideServer Reason = "outside_auth_server"
	ReasonAuthorized    Reason = "authorized"
	ReasonLogin         Reason = "login"
	ReasonRegister      Reason = "register"
	ReasonDenied        Reason = "denied"
)

// Invocation is one command about to run.
type Invocation struct {
	PlayerID uuid.UUID
	Address  netaddr.Address
	Server   string // current server; empty before the player joins one
	Command  string // raw command text
}

// Decision is the gate's verdict. MessageKey is set when the command is
// denied and names the notice shown instead.
type Decision struct {
	Allowed    bool
	MessageKey string
	Reason     Reason
	Intent     Intent
}

// Gate is safe for concurrent use.
type Gate struct {
	auth    Authorizer
	server  glob.Glob
	intents map[string]Intent
	logger  *slog.Logger
}

// Option customizes a Gate.
type Option func(*Gate)

// WithLogger sets the logger for denied commands.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Gate.
func New(auth Authorizer, cfg Config, opts ...Option) (*Gate, error) {
	if auth == nil {
		return nil, oops.Code("GATE_INVALID_CONFIG").Errorf("authorizer is required")
	}
	if cfg.AuthenticationServer == "" {
		cfg.AuthenticationServer = DefaultAuthenticationServer
	}
	if len(cfg.LoginCommands) == 0 {
		cfg.LoginCommands = DefaultLoginCommands
	}
	if len(cfg.RegisterCommands) == 0 {
		cfg.RegisterCommands = DefaultRegisterCommands
	}

	server, err := glob.Compile(strings.ToLower(cfg.AuthenticationServer))
	if err != nil {
		return nil, oops.Code("GATE_INVALID_CONFIG").
			With("authentication_server", cfg.AuthenticationServer).
			Wrap(err)
	}

	intents := make(map[string]Intent)
	for _, set := range []struct {
		names  []string
		intent Intent
	}{
		{cfg.LoginCommands, IntentLogin},
		{cfg.RegisterCommands, IntentRegister},
	} {
		if err := command.ValidateNames(set.names); err != nil {
			return nil, oops.Code("GATE_INVALID_CONFIG").
				With("intent", set.intent.String()).
				Errorf("invalid %s commands: %v", set.intent, err)
		}
		for _, name := range set.names {
			key := strings.ToLower(strings.TrimSpace(name))
			if prev, dup := intents[key]; dup && prev != set.intent {
				return nil, oops.Code("GATE_INVALID_CONFIG").
					With("name", name).
					Errorf("command %q is both a login and a register command", name)
			}
			intents[key] = set.intent
		}
	}

	g := &Gate{
		auth:    auth,
		server:  server,
		intents: intents,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Classify maps a parsed command name to its intent.
func (g *Gate) Classify(name string) Intent {
	return g.intents[strings.ToLower(strings.TrimPrefix(name, "/"))]
}

// InAuthenticationContext reports whether server is gated.
func (g *Gate) InAuthenticationContext(server string) bool {
	return server != "" && g.server.Match(strings.ToLower(server))
}

// Check decides whether inv may run.
func (g *Gate) Check(inv Invocation) Decision {
	d := g.decide(inv)
	recordDecision(d.Reason)
	if !d.Allowed {
		g.logger.Debug("command denied before authentication",
			"player_id", inv.PlayerID.String(),
			"address", inv.Address.String(),
			"server", inv.Server,
		)
	}
	return d
}

func (g *Gate) decide(inv Invocation) Decision {
	parsed, parseErr := command.Parse(inv.Command)
	intent := IntentOther
	if parseErr == nil {
		intent = g.intents[parsed.Name]
	}

	if inv.Server == "" {
		return Decision{Allowed: true, Reason: ReasonNoServer, Intent: intent}
	}
	if !g.InAuthenticationContext(inv.Server) {
		return Decision{Allowed: true, Reason: ReasonOutsideServer, Intent: intent}
	}
	if g.auth.IsAuthorized(inv.PlayerID, inv.Address) {
		return Decision{Allowed: true, Reason: ReasonAuthorized, Intent: intent}
	}

	switch {
	case intent == IntentLogin && parsed.Arity() == LoginArgs:
		return Decision{Allowed: true, Reason: ReasonLogin, Intent: intent}
	case intent == IntentRegister && parsed.Arity() == RegisterArgs:
		return Decision{Allowed: true, Reason: ReasonRegister, Intent: intent}
	}
	return Decision{MessageKey: messages.KeyMustAuthenticate, Reason: ReasonDenied, Intent: intent}
}
