package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"rura/identity"
	"rura/metrics"
	"rura/protocol"
)

// memStore is a minimal in-memory identity.Store stand-in so these
// tests exercise the connection state machine and dispatcher without
// a real database.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	byPhrase map[string]int64
	pass     map[int64]string
	pubkeys  map[int64]string
}

func newMemStore() *memStore {
	return &memStore{
		byPhrase: make(map[string]int64),
		pass:     make(map[int64]string),
		pubkeys:  make(map[int64]string),
	}
}

func (m *memStore) Init() error { return nil }

func (m *memStore) Register(passphrase, password string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byPhrase[passphrase]; ok {
		return 0, identity.ErrAlreadyExists
	}
	m.nextID++
	id := m.nextID
	m.byPhrase[passphrase] = id
	m.pass[id] = password
	return id, nil
}

func (m *memStore) Authenticate(passphrase, password string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPhrase[passphrase]
	if !ok || m.pass[id] != password {
		return 0, identity.ErrBadCredentials
	}
	return id, nil
}

func (m *memStore) SetPubkey(userID int64, pubkey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pass[userID]; !ok {
		return false, nil
	}
	m.pubkeys[userID] = pubkey
	return true, nil
}

func (m *memStore) GetPubkey(userID int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, ok := m.pubkeys[userID]
	return pk, ok, nil
}

// testClient drives the client half of a net.Pipe-backed connection.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *protocol.FrameReader
	writer *protocol.FrameWriter
}

func newTestServer(t *testing.T, requireE2EE bool) *Server {
	t.Helper()
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	return New(Config{RequireE2EE: requireE2EE}, newMemStore(), zap.NewNop(), reg)
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.HandleConn(ctx, serverSide)
	return &testClient{
		t:      t,
		conn:   clientSide,
		reader: protocol.NewFrameReader(clientSide),
		writer: protocol.NewFrameWriter(clientSide),
	}
}

func (c *testClient) send(t *testing.T, env protocol.Envelope) {
	t.Helper()
	if err := c.writer.WriteEnvelope(env); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func (c *testClient) recv(t *testing.T) protocol.Envelope {
	t.Helper()
	env, err := c.reader.ReadEnvelope()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	return env
}

// expectNothing asserts that no frame arrives within d; used to prove
// a stale connection received no delivery after a takeover.
func (c *testClient) expectNothing(t *testing.T, d time.Duration) {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(d))
	defer c.conn.SetReadDeadline(time.Time{})
	if _, err := c.reader.ReadEnvelope(); err == nil {
		t.Fatal("expected no frame, got one")
	}
}

func authEnvelope(command, passphrase, password string) protocol.Envelope {
	env, _ := protocol.NewEnvelope(command, protocol.AuthRequest{Passphrase: passphrase, Password: password})
	return env
}

func TestRegisterThenLogin(t *testing.T) {
	srv := newTestServer(t, true)
	alice := dial(t, srv)
	if got := alice.recv(t).Command; got != protocol.CmdAuthRequired {
		t.Fatalf("first frame = %q, want auth_required", got)
	}

	alice.send(t, authEnvelope(protocol.CmdRegister, "alice", "secret"))
	var resp protocol.AuthResponse
	if err := alice.recv(t).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.UserID == nil || *resp.UserID != 1 {
		t.Fatalf("register response = %+v", resp)
	}

	reconnect := dial(t, srv)
	reconnect.recv(t) // auth_required
	reconnect.send(t, authEnvelope(protocol.CmdLogin, "alice", "secret"))
	if err := reconnect.recv(t).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.UserID == nil || *resp.UserID != 1 {
		t.Fatalf("login response = %+v", resp)
	}
}

func registerAndDrain(t *testing.T, srv *Server, passphrase, password string) *testClient {
	t.Helper()
	c := dial(t, srv)
	c.recv(t) // auth_required
	c.send(t, authEnvelope(protocol.CmdRegister, passphrase, password))
	c.recv(t) // auth_response
	return c
}

func TestE2EEDelivery(t *testing.T) {
	srv := newTestServer(t, true)
	alice := registerAndDrain(t, srv, "alice", "secret") // user 1
	bob := registerAndDrain(t, srv, "bob", "secret")      // user 2

	body := "v1:RU5WUEs=:Tk9OQ0U=:Q0lQSEVSVEVYVA=="
	env, _ := protocol.NewEnvelope(protocol.CmdMessage, protocol.MessageRequest{ToUserID: 2, Body: body})
	alice.send(t, env)

	got := bob.recv(t)
	if got.Command != protocol.CmdMessage {
		t.Fatalf("bob received command %q", got.Command)
	}
	var event protocol.MessageEvent
	if err := got.Decode(&event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.FromUserID != 1 || event.Body != body {
		t.Fatalf("event = %+v", event)
	}
}

func TestE2EEEnforcementRejectsPlaintext(t *testing.T) {
	srv := newTestServer(t, true)
	alice := registerAndDrain(t, srv, "alice", "secret")
	_ = registerAndDrain(t, srv, "bob", "secret")

	env, _ := protocol.NewEnvelope(protocol.CmdMessage, protocol.MessageRequest{ToUserID: 2, Body: "hello world"})
	alice.send(t, env)

	got := alice.recv(t)
	if got.Command != protocol.CmdError || got.Data != protocol.ErrE2EERequired {
		t.Fatalf("got %+v", got)
	}
}

func TestPubkeyRoundTrip(t *testing.T) {
	srv := newTestServer(t, true)
	alice := registerAndDrain(t, srv, "alice", "secret") // user 1
	bob := registerAndDrain(t, srv, "bob", "secret")      // user 2

	setEnv, _ := protocol.NewEnvelope(protocol.CmdSetPubkey, protocol.SetPubkeyRequest{Pubkey: "Qk9CX1BVQktFWQ=="})
	bob.send(t, setEnv)
	var setResp protocol.SetPubkeyResponse
	if err := bob.recv(t).Decode(&setResp); err != nil || !setResp.Success {
		t.Fatalf("set_pubkey response = %+v, err %v", setResp, err)
	}

	getEnv, _ := protocol.NewEnvelope(protocol.CmdGetPubkey, protocol.GetPubkeyRequest{UserID: 2})
	alice.send(t, getEnv)
	var getResp protocol.GetPubkeyResponse
	if err := alice.recv(t).Decode(&getResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !getResp.Success || getResp.Pubkey == nil || *getResp.Pubkey != "Qk9CX1BVQktFWQ==" {
		t.Fatalf("get_pubkey response = %+v", getResp)
	}
}

func TestLatestWinsTakeover(t *testing.T) {
	srv := newTestServer(t, true)
	connA := registerAndDrain(t, srv, "alice", "secret") // user 1, connection A

	connB := dial(t, srv)
	connB.recv(t) // auth_required
	connB.send(t, authEnvelope(protocol.CmdLogin, "alice", "secret"))
	connB.recv(t) // auth_response

	bob := registerAndDrain(t, srv, "bob", "secret") // user 2

	env, _ := protocol.NewEnvelope(protocol.CmdMessage, protocol.MessageRequest{
		ToUserID: 1,
		Body:     "v1:RU5WUEs=:Tk9OQ0U=:Q0lQSEVSVEVYVA==",
	})
	bob.send(t, env)

	got := connB.recv(t)
	if got.Command != protocol.CmdMessage {
		t.Fatalf("connB received %+v, want message", got)
	}

	connA.expectNothing(t, 50*time.Millisecond)
}

func TestUnauthRejectedCommand(t *testing.T) {
	srv := newTestServer(t, true)
	c := dial(t, srv)
	c.recv(t) // auth_required

	env, _ := protocol.NewEnvelope(protocol.CmdMessage, protocol.MessageRequest{ToUserID: 2, Body: "x"})
	c.send(t, env)

	got := c.recv(t)
	if got.Command != protocol.CmdError || got.Data != protocol.ErrAuthRequired {
		t.Fatalf("got %+v", got)
	}
}
