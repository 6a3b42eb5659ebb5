// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/authcache"
	"github.com/holomush/authgate/internal/credential"
	"github.com/holomush/authgate/internal/messages"
	"github.com/holomush/authgate/internal/netaddr"
	"github.com/holomush/authgate/internal/security"
	"github.com/holomush/authgate/pkg/errutil"
)

// SessionCache is the slice of the authorization cache the service uses.
// *authcache.Cache implements it.
type SessionCache interface {
	IsAuthorized(playerID uuid.UUID, addr netaddr.Address) bool
	Authorize(playerID uuid.UUID, addr netaddr.Address)
	Deauthorize(playerID uuid.UUID)
	Keys(playerID uuid.UUID, addr netaddr.Address) []string
	RecordFailure(key string) authcache.LockoutStatus
	IsLocked(key string) authcache.LockoutStatus
}

// IncidentHandler reacts to failed or suspicious verifications.
// *security.IncidentHandler implements it.
type IncidentHandler interface {
	OnVerificationFailure(ctx context.Context, playerID uuid.UUID, addr netaddr.Address)
	OnUUIDMismatch(ctx context.Context, playerID uuid.UUID, observed netaddr.Address, expected, stored security.Identity)
	OnVerificationException(ctx context.Context, playerID uuid.UUID, addr netaddr.Address, cause error) bool
}

// Attempt is one login or register command from a connected player.
type Attempt struct {
	PlayerID uuid.UUID
	Username string
	Address  netaddr.Address
	Args     []string
}

// Result is the outcome shown to the player.
type Result struct {
	Authorized bool
	MessageKey string
	Args       []any
}

func reply(key string, args ...any) Result {
	return Result{MessageKey: key, Args: args}
}

// Service provides the login, register and logout flows.
type Service struct {
	players     PlayerStore
	hasher      PasswordHasher
	cache       SessionCache
	incidents   IncidentHandler
	credentials credential.Config
	logger      *slog.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithCredentialConfig sets the password rules applied at registration.
func WithCredentialConfig(cfg credential.Config) ServiceOption {
	return func(s *Service) {
		s.credentials = cfg
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow replaces the wall clock used for login and registration dates.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAuthService creates a new Service.
func NewAuthService(players PlayerStore, hasher PasswordHasher, cache SessionCache, incidents IncidentHandler, opts ...ServiceOption) (*Service, error) {
	if players == nil || hasher == nil || cache == nil || incidents == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").
			Errorf("player store, hasher, cache and incident handler are required")
	}

	s := &Service{
		players:     players,
		hasher:      hasher,
		cache:       cache,
		incidents:   incidents,
		credentials: credential.DefaultConfig(),
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login verifies a password and authorizes the session on success.
// Unknown nicknames get the not-registered reply players rely on to find the
// register command, so account existence is not secret here. They still pay
// one hash comparison, keeping the cost of every login attempt the same.
func (s *Service) Login(ctx context.Context, a Attempt) Result {
	if s.cache.IsAuthorized(a.PlayerID, a.Address) {
		return reply(messages.KeyLoginAlreadyLoggedIn)
	}
	if out := credential.ValidateArgumentCount(a.Args, 1, messages.KeyLoginUsage); !out.Valid {
		return reply(out.Key, out.Args...)
	}
	if res, locked := s.checkLockout(a); locked {
		return res
	}
	if err := ValidateUsername(a.Username); err != nil {
		return reply(messages.KeyUsernameInvalid)
	}
	password := a.Args[0]

	player, err := s.players.FindByLowercaseName(ctx, strings.ToLower(a.Username))
	if errors.Is(err, ErrNotFound) {
		_, _ = s.hasher.Verify(password, s.dummy()) //nolint:errcheck // cost only
		return reply(messages.KeyLoginNotRegistered)
	}
	if err != nil {
		s.incidents.OnVerificationException(ctx, a.PlayerID, a.Address, oops.
			Code("AUTH_LOGIN_FAILED").
			With("operation", "find player").
			With("username", a.Username).
			Wrap(err))
		return reply(messages.KeyDatabaseError)
	}

	if !player.MatchesIdentity(a.PlayerID) {
		s.incidents.OnUUIDMismatch(ctx, a.PlayerID, a.Address,
			security.Identity{UUID: a.PlayerID, Nickname: a.Username},
			player.Identity())
		return reply(messages.KeyLoginVerificationFailed)
	}
	if player.IsPremium() {
		return reply(messages.KeyLoginPremiumAccount)
	}

	ok, err := s.hasher.Verify(password, player.Hash)
	if err != nil {
		s.incidents.OnVerificationException(ctx, a.PlayerID, a.Address, oops.
			Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("username", a.Username).
			Wrap(err))
		return reply(messages.KeyLoginVerificationFailed)
	}
	if !ok {
		status := s.recordFailure(a)
		s.incidents.OnVerificationFailure(ctx, a.PlayerID, a.Address)
		if status.Locked {
			return reply(messages.KeyBruteForceBlocked, seconds(status.Remaining))
		}
		return reply(messages.KeyLoginIncorrectPassword)
	}

	player.RecordLogin(a.Address, s.now())
	if err := s.players.Save(ctx, player); err != nil {
		// Login succeeds regardless; the login date is informational.
		errutil.LogError(s.logger, "failed to record login", oops.
			Code("AUTH_LOGIN_SAVE_FAILED").
			With("username", a.Username).
			Wrap(err))
	}

	s.cache.Authorize(a.PlayerID, a.Address)
	s.logger.Info("player logged in",
		"player_id", a.PlayerID.String(),
		"username", player.Nickname,
		"address", a.Address.String(),
	)
	return Result{Authorized: true, MessageKey: messages.KeyLoginSuccess}
}

// Register creates an account and authorizes the session on success.
func (s *Service) Register(ctx context.Context, a Attempt) Result {
	if s.cache.IsAuthorized(a.PlayerID, a.Address) {
		return reply(messages.KeyLoginAlreadyLoggedIn)
	}
	if out := credential.ValidateArgumentCount(a.Args, 2, messages.KeyRegisterUsage); !out.Valid {
		return reply(out.Key, out.Args...)
	}
	if res, locked := s.checkLockout(a); locked {
		return res
	}
	if err := ValidateUsername(a.Username); err != nil {
		return reply(messages.KeyUsernameInvalid)
	}

	password, confirmation := a.Args[0], a.Args[1]
	if out := credential.ValidatePassword(password, s.credentials); !out.Valid {
		return reply(out.Key, out.Args...)
	}
	if out := credential.ValidateMatch(password, confirmation); !out.Valid {
		return reply(out.Key, out.Args...)
	}

	_, err := s.players.FindByLowercaseName(ctx, strings.ToLower(a.Username))
	switch {
	case err == nil:
		return reply(messages.KeyRegisterAlreadyRegistered)
	case !errors.Is(err, ErrNotFound):
		errutil.LogError(s.logger, "failed to look up player", oops.
			Code("AUTH_REGISTER_FAILED").
			With("operation", "find player").
			With("username", a.Username).
			Wrap(err))
		return reply(messages.KeyDatabaseError)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogError(s.logger, "failed to hash password", oops.
			Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err))
		return reply(messages.KeyDatabaseError)
	}

	player, err := NewPlayer(a.Username, hash, a.PlayerID, a.Address, s.now())
	if err != nil {
		return reply(messages.KeyUsernameInvalid)
	}
	if err := s.players.Create(ctx, player); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return reply(messages.KeyRegisterAlreadyRegistered)
		}
		errutil.LogError(s.logger, "failed to create player", oops.
			Code("AUTH_REGISTER_FAILED").
			With("operation", "create player").
			With("username", a.Username).
			Wrap(err))
		return reply(messages.KeyDatabaseError)
	}

	s.cache.Authorize(a.PlayerID, a.Address)
	s.logger.Info("player registered",
		"player_id", a.PlayerID.String(),
		"username", player.Nickname,
		"address", a.Address.String(),
	)
	return Result{Authorized: true, MessageKey: messages.KeyRegisterSuccess}
}

// Logout ends the player's session.
func (s *Service) Logout(_ context.Context, playerID uuid.UUID, addr netaddr.Address) Result {
	if !s.cache.IsAuthorized(playerID, addr) {
		return reply(messages.KeyLogoutNotLoggedIn)
	}
	s.cache.Deauthorize(playerID)
	return reply(messages.KeyLogoutSuccess)
}

// checkLockout reports the first locked brute-force key for the attempt.
func (s *Service) checkLockout(a Attempt) (Result, bool) {
	for _, key := range s.cache.Keys(a.PlayerID, a.Address) {
		if status := s.cache.IsLocked(key); status.Locked {
			return reply(messages.KeyLockedOut, seconds(status.Remaining)), true
		}
	}
	return Result{}, false
}

// recordFailure counts the failure against every key and reports the most
// restrictive status.
func (s *Service) recordFailure(a Attempt) authcache.LockoutStatus {
	var worst authcache.LockoutStatus
	for _, key := range s.cache.Keys(a.PlayerID, a.Address) {
		status := s.cache.RecordFailure(key)
		if status.Locked && status.Remaining > worst.Remaining {
			worst = status
		}
	}
	return worst
}

// dummy returns a real hash of random input, computed once with the
// configured hasher so that its cost matches stored hashes.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		buf := make([]byte, 18)
		_, _ = rand.Read(buf)
		hash, err := s.hasher.Hash(base64.RawStdEncoding.EncodeToString(buf))
		if err != nil {
			errutil.LogError(s.logger, "failed to compute timing hash", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// seconds rounds a remaining duration up to whole seconds for display.
func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
