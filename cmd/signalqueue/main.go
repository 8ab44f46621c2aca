package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/codefionn/signalqueue/internal/admin"
	"github.com/codefionn/signalqueue/internal/config"
	"github.com/codefionn/signalqueue/internal/logger"
	"github.com/codefionn/signalqueue/internal/pidfile"
	"github.com/codefionn/signalqueue/internal/signal"
	"github.com/codefionn/signalqueue/internal/signalserver"
)

// cliOptions holds flags that override the config file. Only flags that were
// set on the command line are applied.
type cliOptions struct {
	configPath string
	port       int
	poolSize   int
	actuator   string
	logLevel   string
	admin      string
	set        map[string]bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	opts, parseErr := parseCLIArgs(os.Args[1:])
	if parseErr != nil {
		if errors.Is(parseErr, flag.ErrHelp) {
			return nil
		}
		return parseErr
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("signalqueue starting")
	logger.Debug("Configuration loaded: address=%s pool_size=%d actuator=%s admin=%v",
		cfg.Server.Address(), cfg.Server.PoolSize, cfg.Actuator, cfg.Admin.Enabled)

	if cfg.PidPath != "" {
		pid := pidfile.New(cfg.PidPath)
		if err := pid.Acquire(); err != nil {
			return err
		}
		defer func() {
			if releaseErr := pid.Release(); releaseErr != nil {
				logger.Warn("%v", releaseErr)
			}
		}()
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var board *signal.Board
	actuator := buildActuator(cfg)
	if cfg.Admin.Enabled {
		board = signal.NewBoard()
		actuator = signal.Multi{actuator, board}
	}

	srv := signalserver.NewServer(cfg, actuator)
	if err := srv.Listen(); err != nil {
		return err
	}

	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		adminSrv = admin.NewServer(cfg.Admin.Address, srv, board, cancel)
		if cfg.Admin.Pprof {
			adminSrv.EnableProfiling()
		}
		if err := adminSrv.Listen(); err != nil {
			return err
		}
	}

	if _, statErr := os.Stat(opts.configPath); statErr == nil {
		watchErr := config.Watch(ctx, opts.configPath, func(next *config.Config) {
			reloadLogLevel(next, opts)
		})
		if watchErr != nil {
			logger.Warn("Config hot reload disabled: %v", watchErr)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if adminSrv != nil {
		g.Go(func() error {
			return adminSrv.Serve(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("signalqueue stopped")
	return nil
}

func parseCLIArgs(args []string) (*cliOptions, error) {
	fs := flag.NewFlagSet("signalqueue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := &cliOptions{set: make(map[string]bool)}
	var showHelp bool

	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "Path to the JSON config file")
	fs.IntVar(&opts.port, "port", 0, "TCP port to listen on (0 picks a free port)")
	fs.IntVar(&opts.poolSize, "pool-size", 0, "Number of worker slots")
	fs.StringVar(&opts.actuator, "actuator", "", "Where commands go: log, console or none")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error, none")
	fs.StringVar(&opts.admin, "admin", "", "Serve the admin API on this address (empty disables it)")
	fs.BoolVar(&showHelp, "help", false, "Show usage information")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n\n", fs.Name())
		fmt.Fprintln(fs.Output(), "Options:")
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nEnvironment:")
		for _, name := range []string{config.EnvLogLevel, config.EnvLogPath, config.EnvPort, config.EnvPoolSize} {
			fmt.Fprintf(fs.Output(), "  %s\n", name)
		}
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if showHelp {
		fs.Usage()
		return nil, flag.ErrHelp
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// loadConfig applies file, environment and flags in that order
func loadConfig(opts *cliOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *cliOptions) apply(cfg *config.Config) {
	if o.set["port"] {
		cfg.Server.Port = o.port
	}
	if o.set["pool-size"] {
		cfg.Server.PoolSize = o.poolSize
	}
	if o.set["actuator"] {
		cfg.Actuator = o.actuator
	}
	if o.set["log-level"] {
		cfg.LogLevel = o.logLevel
	}
	if o.set["admin"] {
		cfg.Admin.Enabled = o.admin != ""
		if o.admin != "" {
			cfg.Admin.Address = o.admin
		}
	}
}

// reloadLogLevel is the only setting applied without a restart
func reloadLogLevel(next *config.Config, opts *cliOptions) {
	if err := next.ApplyEnv(os.Getenv); err != nil {
		logger.Warn("Ignoring config change: %v", err)
		return
	}
	opts.apply(next)

	level := logger.ParseLevel(next.LogLevel)
	if level == logger.Global().GetLevel() {
		return
	}
	logger.Global().SetLevel(level)
	logger.Info("Log level changed to %s", level)
}

func buildActuator(cfg *config.Config) signal.Actuator {
	switch cfg.Actuator {
	case config.ActuatorConsole:
		return signal.NewConsoleActuator(os.Stdout)
	case config.ActuatorNone:
		return signal.Nop{}
	default:
		return signal.NewLogActuator(logger.Global())
	}
}
