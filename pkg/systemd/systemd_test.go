package systemd

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func readState(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read notify socket: %v", err)
	}
	return string(buf[:n])
}

func TestReadyWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	sent, err := Ready()
	if err != nil || sent {
		t.Fatalf("Ready() = %v, %v; want false, nil", sent, err)
	}
}

func TestReadyAndStopping(t *testing.T) {
	conn := listenNotify(t)

	if sent, err := Ready(); err != nil || !sent {
		t.Fatalf("Ready() = %v, %v", sent, err)
	}
	if got := readState(t, conn); got != "READY=1" {
		t.Fatalf("state = %q", got)
	}
	if _, err := Stopping(); err != nil {
		t.Fatal(err)
	}
	if got := readState(t, conn); got != "STOPPING=1" {
		t.Fatalf("state = %q", got)
	}
}

func TestWatchdogDisabledReturnsImmediately(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan error, 1)
	go func() { done <- Watchdog(context.Background(), nil) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watchdog blocked without WATCHDOG_USEC")
	}
}

func TestWatchdogPings(t *testing.T) {
	conn := listenNotify(t)
	t.Setenv("WATCHDOG_USEC", "100000")
	t.Setenv("WATCHDOG_PID", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = Watchdog(ctx, func() bool { return true }) }()

	if got := readState(t, conn); !strings.HasPrefix(got, "WATCHDOG=1") {
		t.Fatalf("state = %q", got)
	}
}
