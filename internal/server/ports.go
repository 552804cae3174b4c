package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrNoPort = errors.New("no ephemeral port available")

// portRegistry hands out ephemeral ports from [min, max] and remembers the
// ones held by live sessions.
type portRegistry struct {
	mu   sync.Mutex
	min  int
	max  int
	live map[int]struct{}
}

func newPortRegistry(lo, hi int) *portRegistry {
	return &portRegistry{min: lo, max: hi, live: make(map[int]struct{})}
}

// reserve picks a uniform-random port and walks forward from it until it
// finds one no live session holds.
func (r *portRegistry) reserve() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := r.max - r.min + 1
	first := rand.IntN(span)
	for i := range span {
		port := r.min + (first+i)%span
		if _, taken := r.live[port]; !taken {
			r.live[port] = struct{}{}
			return port, true
		}
	}
	return 0, false
}

func (r *portRegistry) release(port int) {
	r.mu.Lock()
	delete(r.live, port)
	r.mu.Unlock()
}

func (r *portRegistry) ports() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.live))
	for port := range r.live {
		out = append(out, port)
	}
	slices.Sort(out)
	return out
}

// bind reserves a port and listens on it, retrying with a fresh port when
// the bind fails (another process may own it).
func (r *portRegistry) bind(ctx context.Context, host string, attempts int, backoff time.Duration) (*net.UDPConn, int, error) {
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(time.Duration(attempt) * backoff):
			}
		}
		port, ok := r.reserve()
		if !ok {
			lastErr = fmt.Errorf("all %d ports held by live sessions", r.max-r.min+1)
			continue
		}
		addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			r.release(port)
			lastErr = err
			log.Warn().Str("op", "server/ports").Err(err).Msgf("bind attempt %d/%d on port %d failed", attempt+1, attempts, port)
			continue
		}
		return conn, port, nil
	}
	return nil, 0, fmt.Errorf("%w after %d attempts: %v", ErrNoPort, attempts, lastErr)
}
