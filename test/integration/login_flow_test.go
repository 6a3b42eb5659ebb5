// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"bufio"
	"context"
	cryptotls "crypto/tls"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/authgate/internal/auth"
	authpg "github.com/holomush/authgate/internal/auth/postgres"
	"github.com/holomush/authgate/internal/authcache"
	"github.com/holomush/authgate/internal/bridge"
	"github.com/holomush/authgate/internal/gate"
	"github.com/holomush/authgate/internal/messages"
	"github.com/holomush/authgate/internal/proxy"
	"github.com/holomush/authgate/internal/security"
	"github.com/holomush/authgate/internal/store"
	tlscerts "github.com/holomush/authgate/internal/tls"
)

// testEnv holds the resources for one suite run.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	audit     *store.AuditSink
	throttle  *proxy.Throttle
	certsDir  string
	bridge    *bridge.Server
	done      chan error
}

// setupTestEnv starts PostgreSQL, migrates it and serves the bridge over
// mutual TLS with the real auth stack behind it.
func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	env := &testEnv{ctx: ctx, cancel: cancel}

	tmpDir, err := os.MkdirTemp("", "authgate-test-*")
	if err != nil {
		cancel()
		return nil, err
	}
	env.certsDir = filepath.Join(tmpDir, "certs")
	if _, err := tlscerts.EnsureCertificates(env.certsDir, nil, nil); err != nil {
		cancel()
		return nil, err
	}
	serverTLS, err := tlscerts.LoadServerTLS(env.certsDir)
	if err != nil {
		cancel()
		return nil, err
	}

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("authgate_test"),
		postgres.WithUsername("authgate"),
		postgres.WithPassword("authgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Connect(ctx, store.ConnectConfig{URL: connStr})
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.audit = store.NewAuditSink(env.pool)

	cache := authcache.New(authcache.Config{SessionTTL: time.Hour, Threshold: 3})
	g, err := gate.New(cache, gate.Config{})
	if err != nil {
		env.cleanup()
		return nil, err
	}
	incidents := security.NewIncidentHandler(cache, env.audit)
	svc, err := auth.NewAuthService(
		authpg.NewPlayerRepository(env.pool),
		auth.NewBcryptHasher(bcrypt.MinCost),
		cache,
		incidents,
	)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.throttle = proxy.NewThrottle(proxy.ThrottleConfig{Burst: 50, Rate: 10})
	listener, err := proxy.NewListener(g, svc, cache, incidents, messages.Default(), proxy.WithThrottle(env.throttle))
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.bridge = bridge.NewServer("127.0.0.1:0", listener, nil, bridge.WithTLS(serverTLS))
	if err := env.bridge.Listen(); err != nil {
		env.cleanup()
		return nil, err
	}
	env.done = make(chan error, 1)
	go func() { env.done <- env.bridge.Run(ctx) }()

	return env, nil
}

func (e *testEnv) cleanup() {
	e.cancel()
	if e.done != nil {
		<-e.done
	}
	if e.throttle != nil {
		e.throttle.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(context.Background())
	}
	if e.certsDir != "" {
		_ = os.RemoveAll(filepath.Dir(e.certsDir))
	}
}

// proxyClient plays the hosting proxy on one bridge connection.
type proxyClient struct {
	conn    *cryptotls.Conn
	reader  *bufio.Reader
	encoder *json.Encoder
	seq     int
}

func (e *testEnv) dial() *proxyClient {
	cfg, err := tlscerts.LoadClientTLS(e.certsDir, tlscerts.ClientName, "localhost")
	Expect(err).NotTo(HaveOccurred())
	conn, err := cryptotls.Dial("tcp", e.bridge.Addr(), cfg)
	Expect(err).NotTo(HaveOccurred())
	Expect(conn.SetDeadline(time.Now().Add(30 * time.Second))).To(Succeed())
	return &proxyClient{conn: conn, reader: bufio.NewReader(conn), encoder: json.NewEncoder(conn)}
}

func (c *proxyClient) send(req bridge.Request) bridge.Response {
	c.seq++
	req.ID = strconv.Itoa(c.seq)
	Expect(c.encoder.Encode(req)).To(Succeed())
	line, err := c.reader.ReadBytes('\n')
	Expect(err).NotTo(HaveOccurred())
	var resp bridge.Response
	Expect(json.Unmarshal(line, &resp)).To(Succeed())
	Expect(resp.ID).To(Equal(req.ID))
	Expect(resp.Error).To(BeEmpty())
	return resp
}

func (c *proxyClient) command(player uuid.UUID, name, address, cmd string) bridge.Response {
	return c.send(bridge.Request{
		Type:     bridge.TypeCommand,
		PlayerID: player,
		Username: name,
		Address:  address,
		Server:   "auth",
		Command:  cmd,
	})
}

var _ = Describe("Login flow", Ordered, func() {
	var (
		env     *testEnv
		client  *proxyClient
		catalog = messages.Default()
		steve   = uuid.New()
	)

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
		client = env.dial()
	})

	AfterAll(func() {
		if client != nil {
			_ = client.conn.Close()
		}
		if env != nil {
			env.cleanup()
		}
	})

	It("holds players at the login prompt", func() {
		resp := client.command(steve, "Steve", "203.0.113.10:50000", "spawn")
		Expect(resp.Forward).To(BeFalse())
		Expect(resp.Message).To(Equal(catalog.Get(messages.KeyMustAuthenticate)))
	})

	It("rejects a weak password at registration", func() {
		resp := client.command(steve, "Steve", "203.0.113.10:50000", "register abc abc")
		Expect(resp.Message).To(Equal(catalog.Get(messages.KeyPasswordTooShort, 4)))
	})

	It("registers and lets commands through", func() {
		resp := client.command(steve, "Steve", "203.0.113.10:50000", "/register hunter22 hunter22")
		Expect(resp.Forward).To(BeFalse())
		Expect(resp.Message).To(Equal(catalog.Get(messages.KeyRegisterSuccess)))

		resp = client.command(steve, "Steve", "203.0.113.10:50001", "spawn")
		Expect(resp.Forward).To(BeTrue(), "same IP with a new port keeps the session")
	})

	It("drops the session when the player disconnects", func() {
		client.send(bridge.Request{Type: bridge.TypeDisconnect, PlayerID: steve, Address: "203.0.113.10"})

		resp := client.command(steve, "Steve", "203.0.113.10:50002", "spawn")
		Expect(resp.Forward).To(BeFalse())
	})

	It("logs back in with the stored hash", func() {
		resp := client.command(steve, "Steve", "203.0.113.10:50002", "login hunter22")
		Expect(resp.Message).To(Equal(catalog.Get(messages.KeyLoginSuccess)))

		resp = client.command(steve, "Steve", "203.0.113.10:50002", "logout")
		Expect(resp.Message).To(Equal(catalog.Get(messages.KeyLogoutSuccess)))
	})

	It("locks out repeated failures and records them", func() {
		addr := "198.51.100.20:40000"
		var resp bridge.Response
		for range 3 {
			resp = client.command(steve, "Steve", addr, "login wrong-password")
		}
		Expect(resp.Message).To(Equal(catalog.Get(messages.KeyBruteForceBlocked, 300)))

		resp = client.command(steve, "Steve", addr, "login hunter22")
		Expect(resp.Message).To(ContainSubstring("temporarily locked"))

		events, err := env.audit.ListByPlayer(env.ctx, steve, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(3))
		for _, e := range events {
			Expect(e.Kind).To(Equal(security.KindVerificationFailed))
			Expect(e.Address.String()).To(Equal("198.51.100.20"))
		}
	})

	It("refuses another identity using a registered name", func() {
		impostor := uuid.New()

		resp := client.command(impostor, "steve", "192.0.2.99:40000", "login hunter22")
		Expect(resp.Message).To(Equal(catalog.Get(messages.KeyLoginVerificationFailed)))

		events, err := env.audit.ListByPlayer(env.ctx, impostor, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(security.KindIdentityMismatch))
	})

	It("revokes a session presented from another host", func() {
		jeb := uuid.New()
		resp := client.command(jeb, "Jeb", "192.0.2.70:41000", "register redstone redstone")
		Expect(resp.Message).To(Equal(catalog.Get(messages.KeyRegisterSuccess)))

		resp = client.command(jeb, "Jeb", "198.51.100.70:41000", "spawn")
		Expect(resp.Forward).To(BeFalse())
		resp = client.command(jeb, "Jeb", "192.0.2.70:41000", "spawn")
		Expect(resp.Forward).To(BeFalse())

		events, err := env.audit.ListByPlayer(env.ctx, jeb, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(security.KindAddressMismatch))
		Expect(events[0].Fields).To(HaveKeyWithValue("bound_address", "192.0.2.70:41000"))
	})

	It("disconnects every player when the proxy connection drops", func() {
		second := env.dial()
		alex := uuid.New()
		resp := second.command(alex, "Alex", "192.0.2.50", "register swordfish swordfish")
		Expect(resp.Message).To(Equal(catalog.Get(messages.KeyRegisterSuccess)))
		Expect(second.conn.Close()).To(Succeed())

		Eventually(func() bool {
			return client.command(alex, "Alex", "192.0.2.50", "spawn").Forward
		}).WithTimeout(5 * time.Second).Should(BeFalse())
	})
})
