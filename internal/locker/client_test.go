package locker

import (
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func startTestServer(t *testing.T) Options {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "locker.db"))
	if err != nil {
		t.Fatalf("OpenStore err=%v", err)
	}
	srv := NewServer(store)
	if err := srv.Listen("127.0.0.1", 0); err != nil {
		t.Fatalf("Listen err=%v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	return Options{
		Host:    "127.0.0.1",
		Port:    srv.Addr().(*net.TCPAddr).Port,
		Retry:   1,
		Timeout: 5 * time.Second,
	}
}

func TestLockUnlock_RoundTrip(t *testing.T) {
	opts := startTestServer(t)
	l := New("queue.Receiver", opts)

	if err := l.Lock(30); err != nil {
		t.Fatalf("Lock err=%v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock err=%v", err)
	}
}

func TestLock_MutualExclusion(t *testing.T) {
	opts := startTestServer(t)
	holder := New("shared.file", opts)
	if err := holder.Lock(30); err != nil {
		t.Fatalf("holder Lock err=%v", err)
	}

	contender := New("shared.file", opts)
	contender.timeout = 700 * time.Millisecond
	err := contender.Lock(30)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("contender Lock err=%v, want ErrLockTimeout", err)
	}

	if err := holder.Unlock(); err != nil {
		t.Fatalf("holder Unlock err=%v", err)
	}
	contender.timeout = 5 * time.Second
	if err := contender.Lock(30); err != nil {
		t.Fatalf("contender Lock after release err=%v", err)
	}
}

func TestLock_ReentrantForSameHolder(t *testing.T) {
	opts := startTestServer(t)
	l := New("reentrant.file", opts)

	if err := l.Lock(30); err != nil {
		t.Fatalf("first Lock err=%v", err)
	}
	// Same ID renews the lease rather than deadlocking on itself.
	if err := l.Lock(30); err != nil {
		t.Fatalf("second Lock err=%v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock err=%v", err)
	}
}

func TestLock_ExpiredLeaseIsTakenOver(t *testing.T) {
	opts := startTestServer(t)
	stale := New("expiring.file", opts)
	if err := stale.Lock(1); err != nil {
		t.Fatalf("stale Lock err=%v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	next := New("expiring.file", opts)
	if err := next.Lock(30); err != nil {
		t.Fatalf("takeover Lock err=%v", err)
	}
}

func TestUnlock_NotHolderFails(t *testing.T) {
	opts := startTestServer(t)
	holder := New("owned.file", opts)
	if err := holder.Lock(30); err != nil {
		t.Fatalf("Lock err=%v", err)
	}

	stranger := New("owned.file", opts)
	if err := stranger.Unlock(); err == nil {
		t.Fatalf("stranger Unlock succeeded, want error")
	}

	// The lock must still be held by the original owner.
	if err := holder.Unlock(); err != nil {
		t.Fatalf("holder Unlock err=%v", err)
	}
}

func TestPutGetErase_PreservesPayloadCase(t *testing.T) {
	opts := startTestServer(t)
	l := New("value.channel", opts)

	if _, err := l.Put(60, "MiXeD Case Payload"); err != nil {
		t.Fatalf("Put err=%v", err)
	}
	got, err := l.Get()
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if got != "MiXeD Case Payload" {
		t.Fatalf("Get=%q, want payload verbatim", got)
	}

	if _, err := l.Erase(); err != nil {
		t.Fatalf("Erase err=%v", err)
	}
	got, err = l.Get()
	if err != nil {
		t.Fatalf("Get after Erase err=%v", err)
	}
	if got != StatusFailure {
		t.Fatalf("Get after Erase=%q, want %q", got, StatusFailure)
	}
}

func TestLock_ServerUnreachable(t *testing.T) {
	// Bind and immediately close to get a port nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen err=%v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	l := New("nowhere.file", Options{Host: "127.0.0.1", Port: port, Retry: 1, Timeout: 5 * time.Second})
	if err := l.Lock(30); !errors.Is(err, ErrServerUnreachable) {
		t.Fatalf("Lock err=%v, want ErrServerUnreachable", err)
	}
}

func TestServer_BadPayload(t *testing.T) {
	opts := startTestServer(t)

	conn, err := net.Dial("tcp", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	if err != nil {
		t.Fatalf("Dial err=%v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("not json at all\n")); err != nil {
		t.Fatalf("Write err=%v", err)
	}
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read err=%v", err)
	}
	if got := ParseStatus(string(buf[:n]), true); got != StatusBadPayload {
		t.Fatalf("reply=%q, want %q", got, StatusBadPayload)
	}
}
