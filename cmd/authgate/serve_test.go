// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	cryptotls "crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authgate/internal/bridge"
	"github.com/holomush/authgate/internal/messages"
	"github.com/holomush/authgate/internal/observability"
	"github.com/holomush/authgate/internal/store"
	"github.com/holomush/authgate/internal/tls"
	"github.com/holomush/authgate/pkg/errutil"
)

// mockObservabilityServer implements ObservabilityServer for testing.
type mockObservabilityServer struct {
	startFunc func() (<-chan error, error)
	registry  *prometheus.Registry
	stopped   bool
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	if m.startFunc != nil {
		return m.startFunc()
	}
	return make(chan error, 1), nil
}

func (m *mockObservabilityServer) Stop(context.Context) error {
	m.stopped = true
	return nil
}

func (m *mockObservabilityServer) Addr() string { return "127.0.0.1:0" }

func (m *mockObservabilityServer) Registerer() prometheus.Registerer { return m.registry }

type serveRun struct {
	cancel     context.CancelFunc
	finished   chan struct{}
	err        error
	bridgeAddr string
	out        *bytes.Buffer
}

// startServe runs serve with a mocked database until the bridge is ready.
func startServe(t *testing.T, deps *ServeDeps, args ...string) *serveRun {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AUTHGATE_DATABASE_URL", "postgres://localhost/authgate")
	configFile = ""

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	mockPool.ExpectClose()
	deps.PoolFactory = func(context.Context, store.ConnectConfig) (Pool, error) {
		return mockPool, nil
	}

	ready := make(chan string, 1)
	deps.Ready = func(addr string) { ready <- addr }

	cmd := NewServeCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	require.NoError(t, cmd.ParseFlags(append([]string{"--bridge-addr=127.0.0.1:0", "--metrics-addr="}, args...)))

	ctx, cancel := context.WithCancel(context.Background())
	run := &serveRun{cancel: cancel, finished: make(chan struct{}), out: out}
	go func() {
		run.err = runServeWithDeps(ctx, cmd, deps)
		close(run.finished)
	}()
	t.Cleanup(func() {
		cancel()
		run.wait(t)
	})

	select {
	case run.bridgeAddr = <-ready:
	case <-run.finished:
		t.Fatalf("serve exited early: %v", run.err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not become ready")
	}
	return run
}

// wait blocks until serve returns and reports its error.
func (r *serveRun) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.finished:
		return r.err
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
		return nil
	}
}

func (r *serveRun) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	require.NoError(t, r.wait(t))
}

func bridgeCall(t *testing.T, addr string, req bridge.Request) bridge.Response {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return bridgeExchange(t, conn, req)
}

func bridgeExchange(t *testing.T, conn net.Conn, req bridge.Request) bridge.Response {
	t.Helper()
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, json.NewEncoder(conn).Encode(req))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp bridge.Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestServe_GatesCommandsOverBridge(t *testing.T) {
	run := startServe(t, &ServeDeps{})

	resp := bridgeCall(t, run.bridgeAddr, bridge.Request{
		ID:       "1",
		Type:     bridge.TypeCommand,
		PlayerID: uuid.New(),
		Username: "Steve",
		Address:  "203.0.113.9:50000",
		Server:   "auth",
		Command:  "fly",
	})

	assert.Equal(t, "1", resp.ID)
	assert.False(t, resp.Forward)
	assert.Equal(t, messages.Default().Get(messages.KeyMustAuthenticate), resp.Message)

	resp = bridgeCall(t, run.bridgeAddr, bridge.Request{
		ID:       "2",
		Type:     bridge.TypeCommand,
		PlayerID: uuid.New(),
		Address:  "203.0.113.9",
		Server:   "survival",
		Command:  "fly",
	})
	assert.True(t, resp.Forward, "commands outside the authentication server pass")

	run.stop(t)
	assert.Contains(t, run.out.String(), "authgate started")
}

func TestServe_CustomAuthenticationServer(t *testing.T) {
	run := startServe(t, &ServeDeps{}, "--authentication-server=hub-*")

	resp := bridgeCall(t, run.bridgeAddr, bridge.Request{
		Type:     bridge.TypeCommand,
		PlayerID: uuid.New(),
		Address:  "203.0.113.9",
		Server:   "HUB-1",
		Command:  "fly",
	})
	assert.False(t, resp.Forward)

	run.stop(t)
}

func TestServe_BridgeTLS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	run := startServe(t, &ServeDeps{}, "--bridge-tls", "--certs-dir="+dir)

	clientCfg, err := tls.LoadClientTLS(dir, tls.ClientName, "localhost")
	require.NoError(t, err, "certificates generated on first start")
	conn, err := cryptotls.Dial("tcp", run.bridgeAddr, clientCfg)
	require.NoError(t, err)

	resp := bridgeExchange(t, conn, bridge.Request{ID: "p", Type: bridge.TypePing})
	assert.Equal(t, "p", resp.ID)

	run.stop(t)
}

func TestServe_WiresRedisAuditSink(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("AUTHGATE_REDIS_ADDR", mr.Addr())

	var client *redis.Client
	run := startServe(t, &ServeDeps{
		RedisClientFactory: func(addr, password string) redis.UniversalClient {
			client = redis.NewClient(&redis.Options{Addr: addr, Password: password})
			return client
		},
	}, "--audit-sinks=log,redis")

	require.NotNil(t, client)
	run.stop(t)

	assert.ErrorIs(t, client.Ping(context.Background()).Err(), redis.ErrClosed, "client closed on shutdown")
}

func TestServe_ObservabilityServer(t *testing.T) {
	obs := &mockObservabilityServer{registry: prometheus.NewRegistry()}
	var gotAddr string
	var ready observability.ReadinessChecker
	run := startServe(t, &ServeDeps{
		ObservabilityServerFactory: func(addr, _ string, r observability.ReadinessChecker) ObservabilityServer {
			gotAddr, ready = addr, r
			return obs
		},
	}, "--metrics-addr=127.0.0.1:9999")

	assert.Equal(t, "127.0.0.1:9999", gotAddr)
	assert.True(t, ready())

	families, err := obs.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "components register on the observability registry")

	run.stop(t)
	assert.True(t, obs.stopped)
	assert.False(t, ready())
}

func TestServe_ObservabilityFailureShutsDown(t *testing.T) {
	errCh := make(chan error, 1)
	obs := &mockObservabilityServer{
		registry:  prometheus.NewRegistry(),
		startFunc: func() (<-chan error, error) { return errCh, nil },
	}
	run := startServe(t, &ServeDeps{
		ObservabilityServerFactory: func(string, string, observability.ReadinessChecker) ObservabilityServer {
			return obs
		},
	}, "--metrics-addr=127.0.0.1:9999")

	errCh <- errors.New("listener died")

	require.NoError(t, run.wait(t), "observability failure triggers a clean shutdown")
	assert.True(t, obs.stopped)
}

func TestServe_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AUTHGATE_DATABASE_URL", "")
	configFile = ""

	cmd := NewServeCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	require.NoError(t, cmd.ParseFlags(nil))

	err := runServeWithDeps(context.Background(), cmd, nil)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestServe_DatabaseFailure(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AUTHGATE_DATABASE_URL", "postgres://localhost/authgate")
	configFile = ""

	cmd := NewServeCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	require.NoError(t, cmd.ParseFlags([]string{"--metrics-addr="}))

	err := runServeWithDeps(context.Background(), cmd, &ServeDeps{
		PoolFactory: func(context.Context, store.ConnectConfig) (Pool, error) {
			return nil, oops.Code("DB_CONNECT_FAILED").Errorf("connection refused")
		},
	})
	errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
}
