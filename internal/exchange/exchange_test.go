package exchange

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/murmur/murmur-core/internal/config"
	"github.com/murmur/murmur-core/internal/friendstore"
	"github.com/murmur/murmur-core/internal/logging"
	"github.com/murmur/murmur-core/internal/message"
	"github.com/murmur/murmur-core/internal/peerregistry"
	"github.com/murmur/murmur-core/internal/store"
	"github.com/murmur/murmur-core/internal/transport"
)

type recordingNotifications struct {
	mu    sync.Mutex
	calls []int
}

func (r *recordingNotifications) ShowNewMessages(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, n)
}

func (r *recordingNotifications) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := 0
	for _, n := range r.calls {
		sum += n
	}
	return sum
}

type pipeSession struct {
	net.Conn
	remote string
}

func (p *pipeSession) RemoteAddr() string { return p.remote }

func testStatic() *config.Static {
	return &config.Static{
		Durations: map[string]time.Duration{
			config.KeySessionTimeout: 5 * time.Second,
		},
		Ints: map[string]int{
			config.KeyMaxMessages: 32,
			config.KeyMinShared:   0,
		},
		Bools: map[string]bool{
			config.KeyIncludePseudonym: true,
		},
		Prof: config.SecurityProfile{MaxMessages: 32, TrustEnabled: true},
	}
}

func newDevice(t *testing.T, friends ...friendstore.Friend) *friendstore.Store {
	t.Helper()
	fs, err := friendstore.Open(filepath.Join(t.TempDir(), "friends.db"))
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	for _, f := range friends {
		require.NoError(t, fs.AddFriend(f))
	}
	return fs
}

func newStoreWithMessage(t *testing.T, text string) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"), 100)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	m := message.New(text, message.NowMillis())
	m.SetTrust(0.9)
	_, err = st.Add(m)
	require.NoError(t, err)
	return st
}

func TestExchangeRoundTripDeliversMessagesBothWays(t *testing.T) {
	clientStore := newStoreWithMessage(t, "hello from client")
	serverStore := newStoreWithMessage(t, "hello from server")

	clientFriends := newDevice(t, friendstore.Friend{PublicID: []byte("shared-friend-aaaaaaaaaaaaaaaaaa")})
	serverFriends := newDevice(t, friendstore.Friend{PublicID: []byte("shared-friend-aaaaaaaaaaaaaaaaaa")})

	// Both sides require at least one shared friend: this only passes if
	// each side computes its own real cardinality from the symmetric PSI
	// round, not a hardcoded zero.
	clientCfg := testStatic()
	clientCfg.Prof.MinSharedFriends = 1
	serverCfg := testStatic()
	serverCfg.Prof.MinSharedFriends = 1

	clientNotif := &recordingNotifications{}
	serverNotif := &recordingNotifications{}

	clientEx := New(clientCfg, clientStore, clientFriends, nil, clientNotif, logging.Nop(), "client-device")
	serverEx := New(serverCfg, serverStore, serverFriends, nil, serverNotif, logging.Nop(), "server-device")

	a, b := net.Pipe()
	clientSess := &pipeSession{Conn: a, remote: "server-addr"}
	serverSess := &pipeSession{Conn: b, remote: "client-addr"}

	done := make(chan error, 1)
	go func() {
		done <- serverEx.runServer(context.Background(), serverSess)
	}()

	err := clientEx.runClient(context.Background(), clientSess, peerregistry.TransportLAN)
	require.NoError(t, err)
	require.NoError(t, <-done)

	clientAll := clientStore.GetAll()
	serverAll := serverStore.GetAll()
	require.Len(t, clientAll, 2, "client should have its own message plus the server's")
	require.Len(t, serverAll, 2, "server should have its own message plus the client's")
	require.Equal(t, 1, clientNotif.total())
	require.Equal(t, 1, serverNotif.total())
}

// TestExchangeResponderAbortsBelowMinSharedFriends exercises the
// responder's own cardinality computation: the two friend lists don't
// overlap, so the responder's real (non-hardcoded) shared count is 0
// and it must abort even though the initiator's profile would allow
// the session through.
func TestExchangeResponderAbortsBelowMinSharedFriends(t *testing.T) {
	clientStore := newStoreWithMessage(t, "hello")
	serverStore := newStoreWithMessage(t, "hi")
	clientFriends := newDevice(t, friendstore.Friend{PublicID: []byte("client-only-friend-aaaaaaaaaaaaa")})
	serverFriends := newDevice(t, friendstore.Friend{PublicID: []byte("server-only-friend-bbbbbbbbbbbbb")})

	clientCfg := testStatic() // MinSharedFriends stays 0: client never aborts itself
	serverCfg := testStatic()
	serverCfg.Prof.MinSharedFriends = 1

	clientEx := New(clientCfg, clientStore, clientFriends, nil, nil, logging.Nop(), "client-device")
	serverEx := New(serverCfg, serverStore, serverFriends, nil, nil, logging.Nop(), "server-device")

	a, b := net.Pipe()
	clientSess := &pipeSession{Conn: a, remote: "server-addr"}
	serverSess := &pipeSession{Conn: b, remote: "client-addr"}

	done := make(chan error, 1)
	go func() {
		serr := serverEx.runServer(context.Background(), serverSess)
		serverSess.Close()
		done <- serr
	}()

	err := clientEx.runClient(context.Background(), clientSess, peerregistry.TransportLAN)
	require.Error(t, err, "client should see the session end without completing once the responder aborts")

	select {
	case serr := <-done:
		require.Error(t, serr)
	case <-time.After(time.Second):
		t.Fatal("server session did not finish")
	}
}

func TestExchangeAbortsBelowMinSharedFriends(t *testing.T) {
	clientStore := newStoreWithMessage(t, "hello")
	serverStore := newStoreWithMessage(t, "hi")
	clientFriends := newDevice(t) // no friends: PSI skipped, shared stays 0
	serverFriends := newDevice(t)

	cfg := testStatic()
	cfg.Ints[config.KeyMinShared] = 1
	cfg.Prof.MinSharedFriends = 1

	clientEx := New(cfg, clientStore, clientFriends, nil, nil, logging.Nop(), "client-device")
	serverEx := New(testStatic(), serverStore, serverFriends, nil, nil, logging.Nop(), "server-device")

	a, b := net.Pipe()
	clientSess := &pipeSession{Conn: a, remote: "server-addr"}
	serverSess := &pipeSession{Conn: b, remote: "client-addr"}

	done := make(chan error, 1)
	go func() {
		done <- serverEx.runServer(context.Background(), serverSess)
	}()

	err := clientEx.runClient(context.Background(), clientSess, peerregistry.TransportLAN)
	require.Error(t, err)
	clientSess.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server session did not unblock after client abort")
	}
}

var _ transport.Session = (*pipeSession)(nil)
