package server

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tanq16/udpfetch/internal/config"
	"github.com/tanq16/udpfetch/internal/protocol"
	"github.com/tanq16/udpfetch/internal/store"
)

func TestListener_UnboundedEndServesOneChunk(t *testing.T) {
	ts := startServer(t, nil)
	content := []byte("hello world")
	ts.writeFile(t, "a.txt", content)
	c := newTestClient(t)

	ok := c.negotiate(ts.listener.Addr().Port, "a.txt")
	chunk := c.get(ok.Port, "a.txt", 0, math.MaxInt64)
	if chunk.Start != 0 || chunk.End != int64(len(content))-1 || !bytes.Equal(chunk.Payload, content) {
		t.Fatalf("unexpected chunk %d-%d %q", chunk.Start, chunk.End, chunk.Payload)
	}
	// the session is still serving
	if chunk := c.get(ok.Port, "a.txt", 0, 4); string(chunk.Payload) != "hello" {
		t.Fatalf("follow-up chunk %q", chunk.Payload)
	}
	waitForPorts(t, ts.listener, 1)
}

func TestListener_PaddedCloseEndsSession(t *testing.T) {
	ts := startServer(t, nil)
	ts.writeFile(t, "a.txt", []byte("hello world"))
	c := newTestClient(t)

	ok := c.negotiate(ts.listener.Addr().Port, "a.txt")
	c.send(ok.Port, "FILE a.txt CLOSE\x00\x00")
	if frame := c.recv(replyWait); frame != "FILE a.txt CLOSE_OK" {
		t.Fatalf("got %q", frame)
	}
	waitForPorts(t, ts.listener, 0)
}

// flakyFile fails every read at or beyond badFrom.
type flakyFile struct {
	*bytes.Reader
	badFrom int64
	pos     int64
}

func (f *flakyFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := f.Reader.Seek(offset, whence)
	f.pos = pos
	return pos, err
}

func (f *flakyFile) Read(p []byte) (int, error) {
	if f.pos >= f.badFrom {
		return 0, errors.New("input/output error")
	}
	n, err := f.Reader.Read(p[:min(int64(len(p)), f.badFrom-f.pos)])
	f.pos += int64(n)
	return n, err
}

func (f *flakyFile) Size() int64  { return f.Reader.Size() }
func (f *flakyFile) Close() error { return nil }

type flakyStore struct {
	data    []byte
	badFrom int64
}

func (s flakyStore) Open(_ context.Context, name string) (store.File, error) {
	if name != "disk.bin" {
		return nil, store.ErrNotFound
	}
	return &flakyFile{Reader: bytes.NewReader(s.data), badFrom: s.badFrom}, nil
}

func TestSession_ReadErrorKeepsSession(t *testing.T) {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.PortMin, cfg.PortMax = 52000, 52499
	cfg.IdleTimeout = 5 * time.Second
	l := NewListener(cfg, flakyStore{data: []byte(strings.Repeat("x", 100)), badFrom: 50})
	if err := l.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	c := newTestClient(t)

	ok := c.negotiate(l.Addr().Port, "disk.bin")
	c.send(ok.Port, protocol.GetFrame("disk.bin", 60, 70))
	if frame := c.recv(300 * time.Millisecond); frame != "" {
		t.Fatalf("failed read answered: %q", frame)
	}
	if chunk := c.get(ok.Port, "disk.bin", 0, 9); string(chunk.Payload) != "xxxxxxxxxx" {
		t.Fatalf("session stopped serving after a read error: %q", chunk.Payload)
	}
	waitForPorts(t, l, 1)
}

func TestSession_ServeFailsWhenIdleDeadlineCannotBeSet(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	cfg := config.Default()
	s := newSession(cfg, nil, store.LocalStore{}, newPortRegistry(cfg.PortMin, cfg.PortMax), nil, "a.txt")
	s.conn = conn
	err = s.serve(context.Background())
	if err == nil || !strings.Contains(err.Error(), "idle timeout") {
		t.Fatalf("expected idle timeout error, got %v", err)
	}
	if s.state != stateFailed {
		t.Fatalf("state %s", s.state)
	}
}

func TestReceiveBackoff(t *testing.T) {
	if got := receiveBackoff(1); got != 10*time.Millisecond {
		t.Errorf("first failure: %s", got)
	}
	if got := receiveBackoff(5); got != 50*time.Millisecond {
		t.Errorf("fifth failure: %s", got)
	}
	if got := receiveBackoff(10000); got != maxReceiveBackoff {
		t.Errorf("not capped: %s", got)
	}
}
