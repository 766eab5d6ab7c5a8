package originpool

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	addrs []netip.Addr
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, hostname string) ([]netip.Addr, error) {
	f.calls++
	return f.addrs, f.err
}

func listenLoopback(t *testing.T) (addr netip.Addr, port int, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	return netip.MustParseAddr("127.0.0.1"), tcpAddr.Port, func() { ln.Close() }
}

func TestRegistryGetDialsResolvedAddress(t *testing.T) {
	addr, port, closeFn := listenLoopback(t)
	defer closeFn()

	fr := &fakeResolver{addrs: []netip.Addr{addr}}
	reg := NewRegistry(fr, "round-robin", time.Minute)

	pool, err := reg.Get(context.Background(), "example.com", port)
	require.NoError(t, err)

	conn, err := pool.Dial(context.Background())
	require.NoError(t, err)
	conn.Close()
}

func TestRegistryCachesUntilTTLExpires(t *testing.T) {
	addr, port, closeFn := listenLoopback(t)
	defer closeFn()

	fr := &fakeResolver{addrs: []netip.Addr{addr}}
	reg := NewRegistry(fr, "round-robin", 10*time.Millisecond)

	_, err := reg.Get(context.Background(), "example.com", port)
	require.NoError(t, err)
	_, err = reg.Get(context.Background(), "example.com", port)
	require.NoError(t, err)
	assert.Equal(t, 1, fr.calls, "second Get within TTL must not re-resolve")

	time.Sleep(20 * time.Millisecond)
	_, err = reg.Get(context.Background(), "example.com", port)
	require.NoError(t, err)
	assert.Equal(t, 2, fr.calls, "Get after TTL expiry must re-resolve")
}

func TestPoolDialFailsOnClosedPortSucceedsOnListeningPort(t *testing.T) {
	goodAddr, goodPort, closeFn := listenLoopback(t)
	defer closeFn()

	// 127.0.0.1:1 is reserved and refuses connections immediately.
	badAddr := netip.MustParseAddr("127.0.0.1")
	pool, err := NewPool("round-robin", 1, []netip.Addr{badAddr})
	require.NoError(t, err)
	_, err = pool.Dial(context.Background())
	assert.Error(t, err, "dialing a closed port must fail")

	pool, err = NewPool("round-robin", goodPort, []netip.Addr{goodAddr})
	require.NoError(t, err)
	conn, err := pool.Dial(context.Background())
	require.NoError(t, err)
	conn.Close()
}

func TestRegistryGetPropagatesResolveError(t *testing.T) {
	fr := &fakeResolver{err: assertErr{}}
	reg := NewRegistry(fr, "round-robin", time.Minute)

	_, err := reg.Get(context.Background(), "nowhere.invalid", 80)
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "resolve failed" }
