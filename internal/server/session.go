package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/udpfetch/internal/config"
	"github.com/tanq16/udpfetch/internal/protocol"
	"github.com/tanq16/udpfetch/internal/rangereader"
	"github.com/tanq16/udpfetch/internal/store"
)

type sessionState int

const (
	stateInit sessionState = iota
	stateNegotiated
	stateTransferring
	stateClosed
	stateFailed
)

func (s sessionState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateNegotiated:
		return "negotiated"
	case stateTransferring:
		return "transferring"
	case stateClosed:
		return "closed"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// Session serves one file to one client over its own ephemeral endpoint.
// All fields are owned by the goroutine running run.
type Session struct {
	id       string
	cfg      config.Config
	filename string
	peer     *net.UDPAddr
	main     *net.UDPConn
	store    store.Store
	ports    *portRegistry

	conn  *net.UDPConn
	port  int
	file  store.File
	state sessionState

	releaseOnce sync.Once
	log         zerolog.Logger
}

func newSession(cfg config.Config, main *net.UDPConn, st store.Store, ports *portRegistry, peer *net.UDPAddr, filename string) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		cfg:      cfg,
		filename: filename,
		peer:     peer,
		main:     main,
		store:    st,
		ports:    ports,
		state:    stateInit,
		log:      log.With().Str("session", id[:8]).Str("file", filename).Logger(),
	}
}

// run drives the session from INIT to a terminal state. Resources are
// released on every exit path.
func (s *Session) run(ctx context.Context) error {
	defer s.release()
	if err := s.negotiate(ctx); err != nil {
		s.state = stateFailed
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()
	return s.serve(ctx)
}

func (s *Session) negotiate(ctx context.Context) error {
	f, err := s.store.Open(ctx, s.filename)
	if err != nil {
		s.log.Info().Str("op", "server/session").Err(err).Msg("requested file unavailable")
		if sendErr := s.reply(s.main, protocol.Err{Filename: s.filename, Reason: protocol.ReasonNotFound}); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return err
	}
	s.file = f

	conn, port, err := s.ports.bind(ctx, s.cfg.Host, s.cfg.BindAttempts, s.cfg.BindBackoff)
	if err != nil {
		return fmt.Errorf("error binding session endpoint: %w", err)
	}
	s.conn, s.port = conn, port
	s.log = s.log.With().Int("port", port).Logger()

	if err := s.reply(s.main, protocol.Ok{Filename: s.filename, Size: f.Size(), Port: port}); err != nil {
		return err
	}
	s.state = stateNegotiated
	s.log.Info().Str("op", "server/session").Msgf("negotiated %d bytes for %s", f.Size(), s.peer)
	return nil
}

func (s *Session) serve(ctx context.Context) error {
	buf := make([]byte, s.cfg.RecvBufferSize)
	for {
		if s.cfg.IdleTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
				s.state = stateFailed
				return fmt.Errorf("error arming idle timeout: %w", err)
			}
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				s.state = stateClosed
				s.log.Debug().Str("op", "server/session").Msg("session cancelled")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.state = stateClosed
				s.log.Warn().Str("op", "server/session").Msgf("idle for %s, closing", s.cfg.IdleTimeout)
				return nil
			}
			s.state = stateFailed
			return fmt.Errorf("error receiving on session endpoint: %w", err)
		}
		// whoever reached the port last is the client
		s.peer = addr

		req, err := protocol.ParseSessionRequest(string(buf[:n]))
		if err != nil {
			s.log.Debug().Str("op", "server/session").Err(err).Msgf("ignoring datagram from %s", addr)
			continue
		}
		switch r := req.(type) {
		case protocol.Get:
			s.state = stateTransferring
			if err := s.sendRange(r); err != nil {
				s.state = stateFailed
				return err
			}
		case protocol.Close:
			if err := s.reply(s.conn, protocol.CloseOk{Filename: s.filename}); err != nil {
				s.state = stateFailed
				return err
			}
			s.state = stateClosed
			s.log.Info().Str("op", "server/session").Msg("transfer complete, session closed")
			return nil
		}
	}
}

func (s *Session) sendRange(r protocol.Get) error {
	length := rangereader.Length(r.Start, r.End, s.cfg.ChunkSize)
	data, err := rangereader.Read(s.file, r.Start, length)
	if err != nil {
		// a bad read only costs this request its reply
		s.log.Warn().Str("op", "server/session").Err(err).Msgf("cannot serve %d-%d", r.Start, r.End)
		return nil
	}
	if len(data) == 0 {
		s.log.Debug().Str("op", "server/session").Msgf("nothing to send for %d-%d", r.Start, r.End)
		return nil
	}
	end := r.Start + int64(len(data)) - 1
	if err := s.reply(s.conn, protocol.DataChunk{Filename: s.filename, Start: r.Start, End: end, Payload: data}); err != nil {
		return err
	}
	s.log.Debug().Str("op", "server/session").Msgf("sent bytes %d-%d", r.Start, end)
	return nil
}

func (s *Session) reply(conn *net.UDPConn, resp protocol.Response) error {
	if _, err := conn.WriteToUDP([]byte(resp.Frame()), s.peer); err != nil {
		return fmt.Errorf("error sending to %s: %w", s.peer, err)
	}
	return nil
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.file != nil {
			s.file.Close()
		}
		if s.conn != nil {
			s.conn.Close()
			s.ports.release(s.port)
		}
	})
}
