package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tanq16/udpfetch/internal/protocol"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPortMin      = 50000
	DefaultPortMax      = 51000
	DefaultIdleTimeout  = 60 * time.Second
	DefaultMaxSessions  = 64
	DefaultBindAttempts = 8
	DefaultBindBackoff  = 20 * time.Millisecond
)

const (
	StoreLocal = "local"
	StoreS3    = "s3"
)

type S3Config struct {
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Profile string `yaml:"profile"`
}

// Config is built once at startup and handed by value to the listener and
// every session.
type Config struct {
	Host           string        `yaml:"host"`
	ListenPort     int           `yaml:"listen_port"`
	PortMin        int           `yaml:"port_min"`
	PortMax        int           `yaml:"port_max"`
	ChunkSize      int           `yaml:"chunk_size"`
	RecvBufferSize int           `yaml:"recv_buffer_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxSessions    int           `yaml:"max_sessions"`
	BindAttempts   int           `yaml:"bind_attempts"`
	BindBackoff    time.Duration `yaml:"bind_backoff"`
	Store          string        `yaml:"store"`
	Root           string        `yaml:"root"`
	S3             S3Config      `yaml:"s3"`
}

func Default() Config {
	return Config{
		PortMin:        DefaultPortMin,
		PortMax:        DefaultPortMax,
		ChunkSize:      protocol.MaxChunkSize,
		RecvBufferSize: protocol.RecvBufferSize,
		IdleTimeout:    DefaultIdleTimeout,
		MaxSessions:    DefaultMaxSessions,
		BindAttempts:   DefaultBindAttempts,
		BindBackoff:    DefaultBindBackoff,
		Store:          StoreLocal,
	}
}

// Load overlays the YAML file at path onto the defaults. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("listen port %d out of range", c.ListenPort))
	}
	if c.PortMin < 1 || c.PortMax > 65535 || c.PortMin > c.PortMax {
		errs = append(errs, fmt.Errorf("invalid ephemeral port range %d-%d", c.PortMin, c.PortMax))
	}
	if c.ListenPort >= c.PortMin && c.ListenPort <= c.PortMax {
		errs = append(errs, fmt.Errorf("listen port %d overlaps the ephemeral range", c.ListenPort))
	}
	if c.ChunkSize < 1 || c.ChunkSize > protocol.MaxChunkSize {
		errs = append(errs, fmt.Errorf("chunk size must be between 1 and %d", protocol.MaxChunkSize))
	}
	if c.RecvBufferSize < 64 {
		errs = append(errs, errors.New("receive buffer size must be at least 64 bytes"))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, errors.New("idle timeout cannot be negative"))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, errors.New("max sessions must be at least 1"))
	}
	if c.BindAttempts < 1 {
		errs = append(errs, errors.New("bind attempts must be at least 1"))
	}
	switch c.Store {
	case StoreLocal:
	case StoreS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3 store requires a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	return errors.Join(errs...)
}
