package dispatcher

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"snowcast/internal/registry"
	"snowcast/internal/wire"
)

func newTestServer(t *testing.T, n int) (net.Listener, *registry.Registry, context.CancelFunc) {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, string(rune('a'+i))+".raw")
		if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		paths = append(paths, path)
	}
	reg, err := registry.New(paths)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := New(reg, nil)
	go d.Serve(ctx, ln)

	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return ln, reg, cancel
}

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

func TestHelloReceivesWelcomeAndAnnounce(t *testing.T) {
	ln, _, _ := newTestServer(t, 2)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := wire.WriteClientMessage(conn, wire.Hello{UDPPort: freeUDPPort(t)}); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := wire.ReadServerMessage(conn, true)
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	welcome, ok := msg.(wire.Welcome)
	if !ok || welcome.NumStations != 2 {
		t.Fatalf("msg = %#v, want Welcome{NumStations: 2}", msg)
	}

	_, msg, err = wire.ReadServerMessage(conn, true)
	if err != nil {
		t.Fatalf("read announce: %v", err)
	}
	if _, ok := msg.(wire.Announce); !ok {
		t.Fatalf("msg = %#v, want Announce", msg)
	}
}

func TestNonHelloFirstMessageIsRejected(t *testing.T) {
	ln, _, _ := newTestServer(t, 1)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := wire.WriteClientMessage(conn, wire.GetQueue{}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := wire.ReadServerMessage(conn, true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	invalid, ok := msg.(wire.InvalidCommand)
	if !ok {
		t.Fatalf("msg = %#v, want InvalidCommand", msg)
	}
	if invalid.Reason != "Must start with a hello message." {
		t.Fatalf("Reason = %q", invalid.Reason)
	}
}

func TestSetStationToUnknownStationRepliesInvalid(t *testing.T) {
	ln, _, _ := newTestServer(t, 1)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := wire.WriteClientMessage(conn, wire.Hello{UDPPort: freeUDPPort(t)}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := wire.ReadServerMessage(conn, true); err != nil { // welcome
		t.Fatalf("read welcome: %v", err)
	}
	if _, _, err := wire.ReadServerMessage(conn, true); err != nil { // initial announce
		t.Fatalf("read announce: %v", err)
	}

	if err := wire.WriteClientMessage(conn, wire.SetStation{Station: 9}); err != nil {
		t.Fatalf("write set station: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := wire.ReadServerMessage(conn, true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, ok := msg.(wire.InvalidCommand); !ok {
		t.Fatalf("msg = %#v, want InvalidCommand", msg)
	}
}
