// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/authgate/internal/auth"
	"github.com/holomush/authgate/internal/auth/authtest"
	"github.com/holomush/authgate/internal/authcache"
	"github.com/holomush/authgate/internal/credential"
	"github.com/holomush/authgate/internal/messages"
	"github.com/holomush/authgate/internal/netaddr"
	"github.com/holomush/authgate/internal/security"
	"github.com/holomush/authgate/pkg/errutil"
)

var (
	homeAddr  = netaddr.MustParse("203.0.113.50:53000")
	otherAddr = netaddr.MustParse("198.51.100.60:53000")
	loginTime = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
)

type recordingSink struct {
	mu     sync.Mutex
	events []security.Event
}

func (s *recordingSink) Emit(_ context.Context, e security.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) kinds() []security.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]security.Kind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type testEnv struct {
	svc    *auth.Service
	store  *authtest.MemoryStore
	cache  *authcache.Cache
	sink   *recordingSink
	hasher auth.PasswordHasher
}

func newEnv(t *testing.T, hasher auth.PasswordHasher, players ...*auth.Player) *testEnv {
	t.Helper()
	if hasher == nil {
		hasher = auth.NewBcryptHasher(bcrypt.MinCost)
	}
	env := &testEnv{
		store:  authtest.NewMemoryStore(players...),
		cache:  authcache.New(authcache.Config{Threshold: 3}),
		sink:   &recordingSink{},
		hasher: hasher,
	}
	handler := security.NewIncidentHandler(env.cache, env.sink)
	svc, err := auth.NewAuthService(env.store, hasher, env.cache, handler,
		auth.WithNow(func() time.Time { return loginTime }))
	require.NoError(t, err)
	env.svc = svc
	return env
}

func registeredPlayer(t *testing.T, name, password string) *auth.Player {
	t.Helper()
	hash, err := auth.NewBcryptHasher(bcrypt.MinCost).Hash(password)
	require.NoError(t, err)
	p, err := auth.NewPlayer(name, hash, uuid.New(), otherAddr, loginTime.Add(-24*time.Hour))
	require.NoError(t, err)
	return p
}

func TestNewAuthService_NilDependencies(t *testing.T) {
	cache := authcache.New(authcache.Config{})
	handler := security.NewIncidentHandler(cache, nil)
	store := authtest.NewMemoryStore()
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	tests := []struct {
		name      string
		players   auth.PlayerStore
		hasher    auth.PasswordHasher
		cache     auth.SessionCache
		incidents auth.IncidentHandler
	}{
		{"nil store", nil, hasher, cache, handler},
		{"nil hasher", store, nil, cache, handler},
		{"nil cache", store, hasher, nil, handler},
		{"nil incidents", store, hasher, cache, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewAuthService(tt.players, tt.hasher, tt.cache, tt.incidents)
			require.Error(t, err)
			assert.Nil(t, svc)
		})
	}
}

func TestLogin_Success(t *testing.T) {
	p := registeredPlayer(t, "Steve", "hunter22")
	env := newEnv(t, nil, p)
	ctx := context.Background()

	res := env.svc.Login(ctx, auth.Attempt{PlayerID: p.UUID, Username: "steve", Address: homeAddr, Args: []string{"hunter22"}})

	assert.True(t, res.Authorized)
	assert.Equal(t, messages.KeyLoginSuccess, res.MessageKey)
	assert.True(t, env.cache.IsAuthorized(p.UUID, homeAddr))

	stored, ok := env.store.Get("steve")
	require.True(t, ok)
	assert.Equal(t, "203.0.113.50", stored.LoginIP)
	assert.Equal(t, loginTime, stored.LastLoginAt)
	assert.Empty(t, env.sink.kinds())
}

func TestLogin_AlreadyLoggedIn(t *testing.T) {
	p := registeredPlayer(t, "Steve", "hunter22")
	env := newEnv(t, nil, p)
	env.cache.Authorize(p.UUID, homeAddr)

	res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: p.UUID, Username: "Steve", Address: homeAddr, Args: []string{"hunter22"}})

	assert.False(t, res.Authorized)
	assert.Equal(t, messages.KeyLoginAlreadyLoggedIn, res.MessageKey)
}

func TestLogin_Usage(t *testing.T) {
	env := newEnv(t, nil)

	for _, args := range [][]string{nil, {"a", "b"}} {
		res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: uuid.New(), Username: "Steve", Address: homeAddr, Args: args})
		assert.Equal(t, messages.KeyLoginUsage, res.MessageKey)
	}
}

func TestLogin_InvalidUsername(t *testing.T) {
	env := newEnv(t, nil)

	res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: uuid.New(), Username: "no spaces", Address: homeAddr, Args: []string{"pw"}})
	assert.Equal(t, messages.KeyUsernameInvalid, res.MessageKey)
}

func TestLogin_NotRegistered(t *testing.T) {
	env := newEnv(t, nil)
	id := uuid.New()

	res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: id, Username: "Ghost", Address: homeAddr, Args: []string{"pw"}})

	assert.False(t, res.Authorized)
	assert.Equal(t, messages.KeyLoginNotRegistered, res.MessageKey)
	assert.False(t, env.cache.IsAuthorized(id, homeAddr))
}

func TestLogin_WrongPasswordLocksOut(t *testing.T) {
	p := registeredPlayer(t, "Steve", "hunter22")
	env := newEnv(t, nil, p)
	ctx := context.Background()
	attempt := auth.Attempt{PlayerID: p.UUID, Username: "Steve", Address: homeAddr, Args: []string{"wrong"}}

	for range 2 {
		res := env.svc.Login(ctx, attempt)
		assert.Equal(t, messages.KeyLoginIncorrectPassword, res.MessageKey)
	}

	res := env.svc.Login(ctx, attempt)
	assert.Equal(t, messages.KeyBruteForceBlocked, res.MessageKey)
	assert.Equal(t, []any{300}, res.Args)

	attempt.Args = []string{"hunter22"}
	res = env.svc.Login(ctx, attempt)
	assert.False(t, res.Authorized, "correct password is refused while locked")
	assert.Equal(t, messages.KeyLockedOut, res.MessageKey)

	assert.Equal(t, []security.Kind{
		security.KindVerificationFailed,
		security.KindVerificationFailed,
		security.KindVerificationFailed,
	}, env.sink.kinds())
}

func TestLogin_SuccessResetsFailures(t *testing.T) {
	p := registeredPlayer(t, "Steve", "hunter22")
	env := newEnv(t, nil, p)
	ctx := context.Background()

	env.svc.Login(ctx, auth.Attempt{PlayerID: p.UUID, Username: "Steve", Address: homeAddr, Args: []string{"wrong"}})
	env.svc.Login(ctx, auth.Attempt{PlayerID: p.UUID, Username: "Steve", Address: homeAddr, Args: []string{"wrong"}})
	res := env.svc.Login(ctx, auth.Attempt{PlayerID: p.UUID, Username: "Steve", Address: homeAddr, Args: []string{"hunter22"}})
	require.True(t, res.Authorized)

	for _, key := range env.cache.Keys(p.UUID, homeAddr) {
		assert.Zero(t, env.cache.IsLocked(key).Failures)
	}
}

func TestLogin_UUIDMismatch(t *testing.T) {
	p := registeredPlayer(t, "Steve", "hunter22")
	env := newEnv(t, nil, p)
	impostor := uuid.New()
	env.cache.Authorize(impostor, otherAddr)

	res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: impostor, Username: "Steve", Address: homeAddr, Args: []string{"hunter22"}})

	assert.False(t, res.Authorized)
	assert.Equal(t, messages.KeyLoginVerificationFailed, res.MessageKey)
	assert.Empty(t, res.Args, "stored identity is never shown")
	_, ok := env.cache.Session(impostor)
	assert.False(t, ok, "existing session purged")
	assert.Equal(t, []security.Kind{security.KindIdentityMismatch}, env.sink.kinds())
}

func TestLogin_PremiumUUIDMatches(t *testing.T) {
	p := registeredPlayer(t, "Steve", "hunter22")
	p.PremiumUUID = uuid.New()
	env := newEnv(t, nil, p)

	res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: p.PremiumUUID, Username: "Steve", Address: homeAddr, Args: []string{"hunter22"}})

	assert.True(t, res.Authorized)
}

func TestLogin_PremiumAccount(t *testing.T) {
	p := registeredPlayer(t, "Notch", "irrelevant")
	p.Hash = ""
	env := newEnv(t, nil, p)

	res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: p.UUID, Username: "Notch", Address: homeAddr, Args: []string{"anything"}})

	assert.False(t, res.Authorized)
	assert.Equal(t, messages.KeyLoginPremiumAccount, res.MessageKey)
}

func TestLogin_StoreErrorFailsClosed(t *testing.T) {
	env := newEnv(t, nil)
	env.store.FindErr = errors.New("connection reset")
	id := uuid.New()
	env.cache.Authorize(id, otherAddr)

	res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: id, Username: "Steve", Address: homeAddr, Args: []string{"pw"}})

	assert.False(t, res.Authorized)
	assert.Equal(t, messages.KeyDatabaseError, res.MessageKey)
	_, ok := env.cache.Session(id)
	assert.False(t, ok)
	assert.Equal(t, []security.Kind{security.KindVerificationError}, env.sink.kinds())
}

// causeRecorder keeps the errors handed to OnVerificationException.
type causeRecorder struct {
	*security.IncidentHandler
	causes []error
}

func (r *causeRecorder) OnVerificationException(ctx context.Context, playerID uuid.UUID, addr netaddr.Address, cause error) bool {
	r.causes = append(r.causes, cause)
	return r.IncidentHandler.OnVerificationException(ctx, playerID, addr, cause)
}

func TestLogin_VerificationErrorsCarryContext(t *testing.T) {
	p := registeredPlayer(t, "Steve", "hunter22")
	tests := []struct {
		name      string
		setup     func(store *authtest.MemoryStore, hasher *authtest.MockPasswordHasher)
		operation string
	}{
		{
			name: "store lookup",
			setup: func(store *authtest.MemoryStore, _ *authtest.MockPasswordHasher) {
				store.FindErr = errors.New("connection reset")
			},
			operation: "find player",
		},
		{
			name: "hash comparison",
			setup: func(_ *authtest.MemoryStore, hasher *authtest.MockPasswordHasher) {
				hasher.On("Verify", "hunter22", p.Hash).Return(false, errors.New("corrupt hash"))
			},
			operation: "verify password",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := authcache.New(authcache.Config{})
			store := authtest.NewMemoryStore(p)
			hasher := authtest.NewMockPasswordHasher(t)
			tt.setup(store, hasher)
			rec := &causeRecorder{IncidentHandler: security.NewIncidentHandler(cache, nil)}
			svc, err := auth.NewAuthService(store, hasher, cache, rec)
			require.NoError(t, err)

			svc.Login(context.Background(), auth.Attempt{PlayerID: p.UUID, Username: "Steve", Address: homeAddr, Args: []string{"hunter22"}})

			require.Len(t, rec.causes, 1)
			errutil.AssertErrorCode(t, rec.causes[0], "AUTH_LOGIN_FAILED")
			errutil.AssertErrorContext(t, rec.causes[0], "operation", tt.operation)
			errutil.AssertErrorContext(t, rec.causes[0], "username", "Steve")
		})
	}
}

func TestLogin_HasherErrorFailsClosed(t *testing.T) {
	p := registeredPlayer(t, "Steve", "hunter22")
	hasher := authtest.NewMockPasswordHasher(t)
	hasher.On("Verify", "hunter22", p.Hash).Return(false, errors.New("corrupt hash"))
	env := newEnv(t, hasher, p)

	res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: p.UUID, Username: "Steve", Address: homeAddr, Args: []string{"hunter22"}})

	assert.False(t, res.Authorized)
	assert.Equal(t, messages.KeyLoginVerificationFailed, res.MessageKey)
	assert.False(t, env.cache.IsAuthorized(p.UUID, homeAddr))
	assert.Equal(t, []security.Kind{security.KindVerificationError}, env.sink.kinds())
}

func TestLogin_SaveErrorStillAuthorizes(t *testing.T) {
	p := registeredPlayer(t, "Steve", "hunter22")
	env := newEnv(t, nil, p)
	env.store.SaveErr = errors.New("read-only replica")

	res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: p.UUID, Username: "Steve", Address: homeAddr, Args: []string{"hunter22"}})

	assert.True(t, res.Authorized)
}

func TestRegister_Success(t *testing.T) {
	env := newEnv(t, nil)
	id := uuid.New()

	res := env.svc.Register(context.Background(), auth.Attempt{PlayerID: id, Username: "Alex", Address: homeAddr, Args: []string{"s3cret!", "s3cret!"}})

	assert.True(t, res.Authorized)
	assert.Equal(t, messages.KeyRegisterSuccess, res.MessageKey)
	assert.True(t, env.cache.IsAuthorized(id, homeAddr))

	stored, ok := env.store.Get("alex")
	require.True(t, ok)
	assert.Equal(t, "Alex", stored.Nickname)
	assert.Equal(t, id, stored.UUID)
	assert.Equal(t, "203.0.113.50", stored.IP)
	assert.Equal(t, loginTime, stored.RegisteredAt)

	match, err := env.hasher.Verify("s3cret!", stored.Hash)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantKey  string
		wantArgs []any
	}{
		{"missing confirmation", []string{"password"}, messages.KeyRegisterUsage, nil},
		{"too many args", []string{"a", "b", "c"}, messages.KeyRegisterUsage, nil},
		{"too short", []string{"abc", "abc"}, messages.KeyPasswordTooShort, []any{credential.DefaultMinPasswordLength}},
		{"mismatch", []string{"password1", "password2"}, messages.KeyPasswordsNoMatch, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, nil)
			id := uuid.New()

			res := env.svc.Register(context.Background(), auth.Attempt{PlayerID: id, Username: "Alex", Address: homeAddr, Args: tt.args})

			assert.False(t, res.Authorized)
			assert.Equal(t, tt.wantKey, res.MessageKey)
			if tt.wantArgs != nil {
				assert.Equal(t, tt.wantArgs, res.Args)
			}
			_, exists := env.store.Get("alex")
			assert.False(t, exists)
		})
	}
}

func TestRegister_AlreadyRegistered(t *testing.T) {
	p := registeredPlayer(t, "Alex", "hunter22")
	env := newEnv(t, nil, p)

	res := env.svc.Register(context.Background(), auth.Attempt{PlayerID: uuid.New(), Username: "ALEX", Address: homeAddr, Args: []string{"another1", "another1"}})

	assert.False(t, res.Authorized)
	assert.Equal(t, messages.KeyRegisterAlreadyRegistered, res.MessageKey)
}

func TestRegister_CreateRace(t *testing.T) {
	env := newEnv(t, nil)
	env.store.CreateErr = auth.ErrAlreadyExists

	res := env.svc.Register(context.Background(), auth.Attempt{PlayerID: uuid.New(), Username: "Alex", Address: homeAddr, Args: []string{"hunter22", "hunter22"}})

	assert.Equal(t, messages.KeyRegisterAlreadyRegistered, res.MessageKey)
}

func TestRegister_StoreErrors(t *testing.T) {
	t.Run("lookup fails", func(t *testing.T) {
		env := newEnv(t, nil)
		env.store.FindErr = errors.New("timeout")
		id := uuid.New()

		res := env.svc.Register(context.Background(), auth.Attempt{PlayerID: id, Username: "Alex", Address: homeAddr, Args: []string{"hunter22", "hunter22"}})

		assert.Equal(t, messages.KeyDatabaseError, res.MessageKey)
		assert.False(t, env.cache.IsAuthorized(id, homeAddr))
	})

	t.Run("hash fails", func(t *testing.T) {
		hasher := authtest.NewMockPasswordHasher(t)
		hasher.On("Hash", "hunter22").Return("", errors.New("rng exhausted"))
		env := newEnv(t, hasher)

		res := env.svc.Register(context.Background(), auth.Attempt{PlayerID: uuid.New(), Username: "Alex", Address: homeAddr, Args: []string{"hunter22", "hunter22"}})

		assert.Equal(t, messages.KeyDatabaseError, res.MessageKey)
	})

	t.Run("create fails", func(t *testing.T) {
		env := newEnv(t, nil)
		env.store.CreateErr = errors.New("disk full")

		res := env.svc.Register(context.Background(), auth.Attempt{PlayerID: uuid.New(), Username: "Alex", Address: homeAddr, Args: []string{"hunter22", "hunter22"}})

		assert.Equal(t, messages.KeyDatabaseError, res.MessageKey)
	})
}

func TestRegister_LockedOut(t *testing.T) {
	env := newEnv(t, nil)
	for _, key := range env.cache.Keys(uuid.Nil, homeAddr) {
		for range 3 {
			env.cache.RecordFailure(key)
		}
	}

	res := env.svc.Register(context.Background(), auth.Attempt{PlayerID: uuid.New(), Username: "Alex", Address: homeAddr, Args: []string{"hunter22", "hunter22"}})

	assert.Equal(t, messages.KeyLockedOut, res.MessageKey)
	require.Len(t, res.Args, 1)
	assert.Positive(t, res.Args[0].(int))
}

func TestLogout(t *testing.T) {
	env := newEnv(t, nil)
	id := uuid.New()

	res := env.svc.Logout(context.Background(), id, homeAddr)
	assert.Equal(t, messages.KeyLogoutNotLoggedIn, res.MessageKey)

	env.cache.Authorize(id, homeAddr)
	res = env.svc.Logout(context.Background(), id, homeAddr)
	assert.Equal(t, messages.KeyLogoutSuccess, res.MessageKey)
	assert.False(t, env.cache.IsAuthorized(id, homeAddr))
}

func TestLogin_UnknownUserStillHashes(t *testing.T) {
	hasher := authtest.NewMockPasswordHasher(t)
	hasher.On("Hash", mock.AnythingOfType("string")).Return("$2a$04$dummy", nil).Once()
	hasher.On("Verify", "pw", "$2a$04$dummy").Return(false, nil).Twice()
	env := newEnv(t, hasher)

	for range 2 {
		res := env.svc.Login(context.Background(), auth.Attempt{PlayerID: uuid.New(), Username: "Ghost", Address: homeAddr, Args: []string{"pw"}})
		assert.Equal(t, messages.KeyLoginNotRegistered, res.MessageKey)
	}
}
