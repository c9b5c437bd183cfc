package daemon

import (
	"strings"
	"testing"
	"time"

	"github.com/otterjit/otterjit/internal/logging"
)

func TestSocketNames(t *testing.T) {
	if got := socketName(1000); got != "@1000.OtterJIT.Socket" {
		t.Fatalf("socketName = %q", got)
	}
	if got := CoredumpSocketName(1000); !strings.HasPrefix(got, "@1000.") {
		t.Fatalf("coredump socket = %q, want abstract per-uid name", got)
	}
	if socketName(1000) == CoredumpSocketName(1000) {
		t.Fatal("request and coredump sockets must not collide")
	}
}

func TestPacketTypeStrings(t *testing.T) {
	for p, want := range map[PacketType]string{
		PacketKill:          "KILL",
		PacketGetLogFD:      "GET_LOG_FD",
		PacketGetRootFSPath: "GET_ROOTFS_PATH",
		PacketGetPIDFD:      "GET_PID_FD",
	} {
		if p.String() != want {
			t.Errorf("%d.String() = %q, want %q", p, p.String(), want)
		}
	}
}

func TestServerRequestRoundTrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	log := logging.New("daemon-test")

	srv, err := Listen(log)
	if err != nil {
		t.Skipf("cannot bind the per-uid abstract socket here: %v", err)
	}
	srv.RootFSPath = "/srv/rootfs"
	go srv.Serve()
	defer srv.Shutdown()

	conn, err := Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	path, err := RequestRootFSPath(conn)
	conn.Close()
	if err != nil || path != "/srv/rootfs" {
		t.Fatalf("GET_ROOTFS_PATH = %q, %v", path, err)
	}

	// Second connection: one request per connection, so a fresh dial.
	conn2, err := Connect()
	if err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if err := RequestKill(conn2); err != nil {
		t.Fatalf("KILL: %v", err)
	}
	conn2.Close()

	// The daemon should stop accepting shortly after the KILL ack.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := Connect(); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("daemon still accepting connections after KILL")
}

func TestSecondDaemonDetectsLock(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	log := logging.New("daemon-test")

	srv, err := Listen(log)
	if err != nil {
		t.Skipf("cannot bind the per-uid abstract socket here: %v", err)
	}
	defer srv.Shutdown()

	if _, err := Listen(log); err == nil {
		t.Fatal("second daemon did not detect the lock/socket")
	}
}
