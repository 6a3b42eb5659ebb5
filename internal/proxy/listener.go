// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package proxy connects proxy connection events to the command gate and the
// login flow. The hosting proxy calls OnCommand for every command a player
// types and OnDisconnect when the connection closes.
package proxy

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/auth"
	"github.com/holomush/authgate/internal/authcache"
	"github.com/holomush/authgate/internal/command"
	"github.com/holomush/authgate/internal/gate"
	"github.com/holomush/authgate/internal/messages"
	"github.com/holomush/authgate/internal/netaddr"
)

// DefaultLogoutCommands are the names that end a session.
var DefaultLogoutCommands = []string{"logout"}

// Gatekeeper decides whether a command may run. *gate.Gate implements it.
type Gatekeeper interface {
	Check(inv gate.Invocation) gate.Decision
	InAuthenticationContext(server string) bool
}

// Authenticator runs the credential flows. *auth.Service implements it.
type Authenticator interface {
	Login(ctx context.Context, a auth.Attempt) auth.Result
	Register(ctx context.Context, a auth.Attempt) auth.Result
	Logout(ctx context.Context, playerID uuid.UUID, addr netaddr.Address) auth.Result
}

// Sessions is the slice of the authorization cache the listener touches
// directly. *authcache.Cache implements it.
type Sessions interface {
	IsAuthorized(playerID uuid.UUID, addr netaddr.Address) bool
	Deauthorize(playerID uuid.UUID)
	Session(playerID uuid.UUID) (authcache.Session, bool)
	IsExpired(s authcache.Session) bool
}

// Incidents handles a session presented from an unexpected host.
// *security.IncidentHandler implements it.
type Incidents interface {
	OnAddressMismatch(ctx context.Context, playerID uuid.UUID, bound, observed netaddr.Address)
}

// Connection identifies a connected player.
type Connection struct {
	PlayerID uuid.UUID
	Username string
	Address  netaddr.Address
	Server   string // current backend, empty while connecting
}

// Reply tells the proxy what to do with a command.
type Reply struct {
	Forward bool   // pass the command on to the backend
	Message string // rendered text for the player, may be empty
}

// Listener handles proxy events.
type Listener struct {
	gate      Gatekeeper
	auth      Authenticator
	sessions  Sessions
	incidents Incidents
	catalog   messages.Catalog
	logout    map[string]bool
	throttle  *Throttle
	logger    *slog.Logger
}

// Option customizes a Listener.
type Option func(*Listener)

// WithLogger sets the listener logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithThrottle rate-limits login and register commands per player.
func WithThrottle(t *Throttle) Option {
	return func(l *Listener) {
		l.throttle = t
	}
}

// WithLogoutCommands replaces DefaultLogoutCommands.
func WithLogoutCommands(names ...string) Option {
	return func(l *Listener) {
		l.logout = make(map[string]bool, len(names))
		for _, name := range names {
			l.logout[strings.ToLower(name)] = true
		}
	}
}

// NewListener creates a Listener. All dependencies are required.
func NewListener(g Gatekeeper, a Authenticator, s Sessions, i Incidents, c messages.Catalog, opts ...Option) (*Listener, error) {
	if g == nil || a == nil || s == nil || i == nil || c == nil {
		return nil, oops.Code("PROXY_INVALID_LISTENER").
			Errorf("gate, authenticator, sessions, incidents and catalog are required")
	}

	l := &Listener{
		gate:      g,
		auth:      a,
		sessions:  s,
		incidents: i,
		catalog:   c,
		logger:    slog.New(slog.DiscardHandler),
	}
	WithLogoutCommands(DefaultLogoutCommands...)(l)
	for _, opt := range opts {
		opt(l)
	}
	for name := range l.logout {
		if err := command.ValidateCommandName(name); err != nil {
			return nil, oops.Code("PROXY_INVALID_LISTENER").
				With("command", name).
				Errorf("invalid logout command: %v", err)
		}
	}
	return l, nil
}

// OnCommand gates a raw command and runs the login, register and logout
// commands itself. Those are never forwarded, so passwords stay in the proxy.
// A live session presented from another host is a security incident: the
// session is dropped and the player must log in again.
func (l *Listener) OnCommand(ctx context.Context, conn Connection, raw string) Reply {
	prior, hadSession := l.sessions.Session(conn.PlayerID)
	expired := hadSession && l.sessions.IsExpired(prior)
	if hadSession && !expired && !prior.BoundAddress.SameHost(conn.Address) {
		l.logger.Warn("session used from another host",
			"player_id", conn.PlayerID.String(),
			"bound", prior.BoundAddress.String(),
			"observed", conn.Address.String(),
		)
		l.incidents.OnAddressMismatch(ctx, conn.PlayerID, prior.BoundAddress, conn.Address)
	}

	d := l.gate.Check(gate.Invocation{
		PlayerID: conn.PlayerID,
		Address:  conn.Address,
		Server:   conn.Server,
		Command:  raw,
	})
	if !d.Allowed {
		key := d.MessageKey
		if expired {
			key = messages.KeySessionExpired
		}
		return Reply{Message: l.catalog.Get(key)}
	}

	parsed, err := command.Parse(raw)
	if err != nil {
		return Reply{Forward: true}
	}

	if d.Intent == gate.IntentLogin || d.Intent == gate.IntentRegister {
		if reply, limited := l.throttled(conn); limited {
			return reply
		}
	}

	switch {
	case d.Intent == gate.IntentLogin:
		return l.HandleLogin(ctx, conn, parsed.Args)
	case d.Intent == gate.IntentRegister:
		return l.HandleRegister(ctx, conn, parsed.Args)
	case l.logout[parsed.Name]:
		return l.HandleLogout(ctx, conn)
	}
	return Reply{Forward: true}
}

// HandleLogin runs the login flow for conn.
func (l *Listener) HandleLogin(ctx context.Context, conn Connection, args []string) Reply {
	res := l.auth.Login(ctx, attempt(conn, args))
	l.logResult("login", conn, res)
	return l.render(res)
}

// HandleRegister runs the registration flow for conn.
func (l *Listener) HandleRegister(ctx context.Context, conn Connection, args []string) Reply {
	res := l.auth.Register(ctx, attempt(conn, args))
	l.logResult("register", conn, res)
	return l.render(res)
}

// HandleLogout ends the session for conn.
func (l *Listener) HandleLogout(ctx context.Context, conn Connection) Reply {
	return l.render(l.auth.Logout(ctx, conn.PlayerID, conn.Address))
}

// OnDisconnect drops the player's session. A reconnect must log in again.
func (l *Listener) OnDisconnect(conn Connection) {
	l.sessions.Deauthorize(conn.PlayerID)
	l.logger.Debug("player disconnected", "player_id", conn.PlayerID.String())
}

// OnServerSwitch leaves the session untouched. Entering the authentication
// server without a session yields the login prompt.
func (l *Listener) OnServerSwitch(conn Connection, target string) Reply {
	l.logger.Debug("player switching server",
		"player_id", conn.PlayerID.String(),
		"from", conn.Server,
		"to", target,
	)
	if l.gate.InAuthenticationContext(target) && !l.sessions.IsAuthorized(conn.PlayerID, conn.Address) {
		return Reply{Forward: true, Message: l.catalog.Get(messages.KeyMustAuthenticate)}
	}
	return Reply{Forward: true}
}

func (l *Listener) throttled(conn Connection) (Reply, bool) {
	if l.throttle == nil {
		return Reply{}, false
	}
	ok, wait := l.throttle.Allow(conn.PlayerID)
	if ok {
		return Reply{}, false
	}
	l.logger.Debug("credential command throttled",
		"player_id", conn.PlayerID.String(),
		"wait", wait,
	)
	seconds := int64(math.Ceil(wait.Seconds()))
	return Reply{Message: l.catalog.Get(messages.KeyThrottled, seconds)}, true
}

func (l *Listener) render(res auth.Result) Reply {
	return Reply{Message: l.catalog.Get(res.MessageKey, res.Args...)}
}

func (l *Listener) logResult(flow string, conn Connection, res auth.Result) {
	l.logger.Debug("authentication attempt",
		"flow", flow,
		"player_id", conn.PlayerID.String(),
		"username", conn.Username,
		"authorized", res.Authorized,
		"result", res.MessageKey,
	)
}

func attempt(conn Connection, args []string) auth.Attempt {
	return auth.Attempt{
		PlayerID: conn.PlayerID,
		Username: conn.Username,
		Address:  conn.Address,
		Args:     args,
	}
}
