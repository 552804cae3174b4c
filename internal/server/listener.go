package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/udpfetch/internal/config"
	"github.com/tanq16/udpfetch/internal/protocol"
	"github.com/tanq16/udpfetch/internal/store"
	"golang.org/x/sync/errgroup"
)

// Listener owns the well-known endpoint and turns each DOWNLOAD request
// into a Session running on its own goroutine.
type Listener struct {
	cfg      config.Config
	store    store.Store
	ports    *portRegistry
	conn     *net.UDPConn
	sessions errgroup.Group
}

func NewListener(cfg config.Config, st store.Store) *Listener {
	l := &Listener{
		cfg:   cfg,
		store: st,
		ports: newPortRegistry(cfg.PortMin, cfg.PortMax),
	}
	l.sessions.SetLimit(cfg.MaxSessions)
	return l
}

// Listen binds the well-known port. A failure here is fatal for the caller.
func (l *Listener) Listen() error {
	addr := &net.UDPAddr{IP: net.ParseIP(l.cfg.Host), Port: l.cfg.ListenPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("error binding port %d: %w", l.cfg.ListenPort, err)
	}
	l.conn = conn
	log.Info().Str("op", "server/listener").Msgf("server listening on %s", conn.LocalAddr())
	return nil
}

func (l *Listener) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// ActivePorts lists the ephemeral ports held by live sessions.
func (l *Listener) ActivePorts() []int {
	return l.ports.ports()
}

// Serve runs the receive loop until ctx is cancelled, then waits for every
// live session to release its resources.
func (l *Listener) Serve(ctx context.Context) error {
	if l.conn == nil {
		return errors.New("listener is not bound")
	}
	stop := context.AfterFunc(ctx, func() {
		l.conn.Close()
	})
	defer stop()

	buf := make([]byte, l.cfg.RecvBufferSize)
	failures := 0
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			failures++
			delay := receiveBackoff(failures)
			log.Warn().Str("op", "server/listener").Err(err).Msgf("receive failed (%d in a row), pausing %s", failures, delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		req, err := protocol.ParseDownload(string(buf[:n]))
		if err != nil {
			log.Debug().Str("op", "server/listener").Err(err).Msgf("discarding datagram from %s", addr)
			continue
		}
		l.dispatch(ctx, addr, req.Filename)
	}
	log.Info().Str("op", "server/listener").Msg("listener stopped, waiting for sessions")
	return l.sessions.Wait()
}

func (l *Listener) dispatch(ctx context.Context, addr *net.UDPAddr, filename string) {
	session := newSession(l.cfg, l.conn, l.store, l.ports, addr, filename)
	started := l.sessions.TryGo(func() error {
		if err := session.run(ctx); err != nil {
			session.log.Error().Str("op", "server/listener").Err(err).Msgf("session ended in state %s", session.state)
		}
		// a failed session must not stop the others
		return nil
	})
	if !started {
		log.Warn().Str("op", "server/listener").Msgf("session limit %d reached, dropping DOWNLOAD %s from %s", l.cfg.MaxSessions, filename, addr)
		return
	}
	log.Debug().Str("op", "server/listener").Msgf("accepted DOWNLOAD %s from %s", filename, addr)
}

const maxReceiveBackoff = time.Second

// receiveBackoff grows linearly with consecutive receive failures.
func receiveBackoff(failures int) time.Duration {
	return min(time.Duration(failures)*10*time.Millisecond, maxReceiveBackoff)
}
