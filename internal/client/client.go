package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/udpfetch/internal/protocol"
)

const (
	DefaultTimeout = 2 * time.Second
	DefaultRetries = 5
)

var (
	ErrNotFound   = errors.New("file not found on server")
	ErrTimeout    = errors.New("no reply from server")
	ErrNoSession  = errors.New("no session negotiated")
	ErrBadRequest = errors.New("invalid request")
)

type Options struct {
	Timeout time.Duration // wait per attempt
	Retries int           // extra attempts after the first
}

// Client speaks the download protocol to one server. It is not safe for
// concurrent use; a Client holds at most one session.
type Client struct {
	server   *net.UDPAddr
	conn     *net.UDPConn
	timeout  time.Duration
	retries  int
	filename string
	session  *net.UDPAddr
	size     int64
	buf      []byte
}

func Dial(server string, opts Options) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("error resolving %s: %w", server, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("error opening client socket: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Client{
		server:  addr,
		conn:    conn,
		timeout: opts.Timeout,
		retries: opts.Retries,
		buf:     make([]byte, protocol.RecvBufferSize),
	}, nil
}

func (c *Client) Size() int64 {
	return c.size
}

// SessionPort is the ephemeral port of the negotiated session, or 0.
func (c *Client) SessionPort() int {
	if c.session == nil {
		return 0
	}
	return c.session.Port
}

// Negotiate asks the server for filename and records the session endpoint
// from its OK reply.
func (c *Client) Negotiate(ctx context.Context, filename string) (int64, error) {
	resp, err := c.roundTrip(ctx, c.server, protocol.DownloadFrame(filename), func(r protocol.Response) bool {
		switch r := r.(type) {
		case protocol.Ok:
			return r.Filename == filename
		case protocol.Err:
			return r.Filename == filename
		}
		return false
	})
	if err != nil {
		return 0, fmt.Errorf("error negotiating %s: %w", filename, err)
	}
	if e, isErr := resp.(protocol.Err); isErr {
		return 0, fmt.Errorf("%w: %s (%s)", ErrNotFound, filename, e.Reason)
	}
	ok := resp.(protocol.Ok)
	c.filename = filename
	c.size = ok.Size
	c.session = &net.UDPAddr{IP: c.server.IP, Port: ok.Port, Zone: c.server.Zone}
	log.Debug().Str("op", "client/client").Msgf("negotiated %s: %d bytes on port %d", filename, ok.Size, ok.Port)
	return ok.Size, nil
}

// FetchRange requests [start, end] and returns the chunk the session sent.
// The chunk may end before end; the server caps each reply.
func (c *Client) FetchRange(ctx context.Context, start, end int64) (protocol.DataChunk, error) {
	if c.session == nil {
		return protocol.DataChunk{}, ErrNoSession
	}
	if start < 0 || end < start || start >= c.size {
		return protocol.DataChunk{}, fmt.Errorf("%w: range %d-%d of %d bytes", ErrBadRequest, start, end, c.size)
	}
	resp, err := c.roundTrip(ctx, c.session, protocol.GetFrame(c.filename, start, end), func(r protocol.Response) bool {
		chunk, ok := r.(protocol.DataChunk)
		return ok && chunk.Start == start
	})
	if err != nil {
		return protocol.DataChunk{}, fmt.Errorf("error fetching %d-%d: %w", start, end, err)
	}
	return resp.(protocol.DataChunk), nil
}

// Close ends the session and the client socket. A lost CLOSE_OK surfaces
// as ErrTimeout even though the server may already have closed.
func (c *Client) Close(ctx context.Context) error {
	defer c.conn.Close()
	if c.session == nil {
		return nil
	}
	_, err := c.roundTrip(ctx, c.session, protocol.CloseFrame(c.filename), func(r protocol.Response) bool {
		_, ok := r.(protocol.CloseOk)
		return ok
	})
	c.session = nil
	if err != nil {
		return fmt.Errorf("error closing session: %w", err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, dst *net.UDPAddr, frame string, match func(protocol.Response) bool) (protocol.Response, error) {
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			log.Debug().Str("op", "client/client").Msgf("retrying %q (attempt %d/%d)", frame, attempt+1, c.retries+1)
		}
		if _, err := c.conn.WriteToUDP([]byte(frame), dst); err != nil {
			return nil, fmt.Errorf("error sending to %s: %w", dst, err)
		}
		resp, err := c.await(ctx, match)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return nil, err
		}
	}
	return nil, ErrTimeout
}

// await reads replies until one matches or the attempt deadline passes.
// Late replies to earlier requests are skipped.
func (c *Client) await(ctx context.Context, match func(protocol.Response) bool) (protocol.Response, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		n, _, err := c.conn.ReadFromUDP(c.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("error receiving: %w", err)
		}
		resp, err := protocol.ParseResponse(string(c.buf[:n]))
		if err != nil {
			log.Debug().Str("op", "client/client").Err(err).Msg("ignoring unparseable reply")
			continue
		}
		if match(resp) {
			return resp, nil
		}
	}
}
