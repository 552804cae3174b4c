package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/udpfetch/internal/config"
	"github.com/tanq16/udpfetch/internal/output"
	"github.com/tanq16/udpfetch/internal/server"
	"github.com/tanq16/udpfetch/internal/store"
	"github.com/tanq16/udpfetch/internal/utils"
)

var UDPFetchVersion = "dev"

var debug bool

type serverOptions struct {
	configPath   string
	portMin      int
	portMax      int
	idleTimeout  time.Duration
	maxSessions  int
	bindAttempts int
	root         string
	s3Bucket     string
	s3Prefix     string
	s3Profile    string
}

func newRootCmd() *cobra.Command {
	var opts serverOptions
	cmd := &cobra.Command{
		Use:     "udpfetch <port>",
		Short:   "Serve files over a lightweight UDP download protocol",
		Version: UDPFetchVersion,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument: the listen port")
			}
			_, err := parsePort(args[0])
			return err
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			utils.InitLogger(debug)
		},
		Run: func(cmd *cobra.Command, args []string) {
			port, _ := parsePort(args[0])
			cfg, err := buildConfig(cmd, opts, port)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := runServer(ctx, cfg); err != nil {
				log.Error().Str("op", "cmd/root").Err(err).Msg("server stopped")
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "YAML configuration file")
	cmd.Flags().IntVar(&opts.portMin, "port-min", config.DefaultPortMin, "Lowest ephemeral session port")
	cmd.Flags().IntVar(&opts.portMax, "port-max", config.DefaultPortMax, "Highest ephemeral session port")
	cmd.Flags().DurationVar(&opts.idleTimeout, "idle-timeout", config.DefaultIdleTimeout, "Close sessions idle for this long")
	cmd.Flags().IntVar(&opts.maxSessions, "max-sessions", config.DefaultMaxSessions, "Maximum concurrent sessions")
	cmd.Flags().IntVar(&opts.bindAttempts, "bind-attempts", config.DefaultBindAttempts, "Ephemeral port bind attempts per session")
	cmd.Flags().StringVar(&opts.root, "root", "", "Directory files are served from (default: working directory)")
	cmd.Flags().StringVar(&opts.s3Bucket, "s3-bucket", "", "Serve objects from this S3 bucket instead of the filesystem")
	cmd.Flags().StringVar(&opts.s3Prefix, "s3-prefix", "", "Key prefix prepended to requested names")
	cmd.Flags().StringVar(&opts.s3Profile, "s3-profile", "", "AWS shared config profile")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newBatchCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func parsePort(arg string) (int, error) {
	port, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: not an integer", arg)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %d: must be between 1 and 65535", port)
	}
	return port, nil
}

// buildConfig layers the config file and then any flags set explicitly on
// top of the defaults.
func buildConfig(cmd *cobra.Command, opts serverOptions, port int) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.ListenPort = port
	flags := cmd.Flags()
	if flags.Changed("port-min") {
		cfg.PortMin = opts.portMin
	}
	if flags.Changed("port-max") {
		cfg.PortMax = opts.portMax
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = opts.idleTimeout
	}
	if flags.Changed("max-sessions") {
		cfg.MaxSessions = opts.maxSessions
	}
	if flags.Changed("bind-attempts") {
		cfg.BindAttempts = opts.bindAttempts
	}
	if flags.Changed("root") {
		cfg.Root = opts.root
	}
	if flags.Changed("s3-bucket") {
		cfg.Store = config.StoreS3
		cfg.S3.Bucket = opts.s3Bucket
	}
	if flags.Changed("s3-prefix") {
		cfg.S3.Prefix = opts.s3Prefix
	}
	if flags.Changed("s3-profile") {
		cfg.S3.Profile = opts.s3Profile
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.Store == config.StoreS3 {
		return store.NewS3Store(ctx, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Profile)
	}
	return store.LocalStore{Root: cfg.Root}, nil
}

func runServer(ctx context.Context, cfg config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	l := server.NewListener(cfg, st)
	if err := l.Listen(); err != nil {
		return err
	}
	output.PrintHeader(fmt.Sprintf("udpfetch %s listening on %s", UDPFetchVersion, l.Addr()))
	output.PrintInfo(fmt.Sprintf("sessions on ports %d-%d, %s store", cfg.PortMin, cfg.PortMax, cfg.Store))
	return l.Serve(ctx)
}
