package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dray-io/reclaim/internal/config"
	"github.com/dray-io/reclaim/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("reclaimd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "run":
		os.Exit(runCleanup(os.Args[2:], os.Stdout, os.Stderr))
	case "serve":
		runServe(os.Args[2:])
	case "jobs":
		runJobs(os.Args[2:])
	case "version":
		fmt.Printf("reclaimd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: reclaimd <command> [options]

Commands:
  run       Delete unused releases, stemcells and orphaned disks once
  serve     Run scheduled and Kafka-submitted cleanup jobs
  jobs      Inspect cleanup job records (list, show)
  version   Print version information

Run 'reclaimd <command> --help' for more information on a command.`)
}

// loadConfig loads path if set, else the file named by RECLAIM_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// newLogger builds the process logger and installs it as the global one.
func newLogger(cfg *config.Config, out io.Writer) *logging.Logger {
	l := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Observability.LogLevel),
		Format: logging.ParseFormat(cfg.Observability.LogFormat),
		Output: out,
	})
	logging.SetGlobal(l)
	return l
}

func runCleanup(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	removeAll := fs.Bool("remove-all", false, "Delete every unused version instead of keeping the newest two")
	user := fs.String("user", "admin", "User recorded on the job")
	showEvents := fs.Bool("events", false, "Stream the job event log to stdout")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: reclaimd run [options]

Run one delete_artifacts job and print its result.

Unless --remove-all is given, the two newest versions of each release
and stemcell are kept. Orphaned disks are only deleted with --remove-all.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	logger := newLogger(cfg, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := ConnectBackends(ctx, cfg)
	if err != nil {
		logger.Errorf("failed to connect backends", map[string]any{"error": err.Error()})
		return 1
	}

	opts := DirectorOptions{Config: cfg, Logger: logger, Backends: backends}
	if *showEvents {
		opts.EventOutput = stdout
	}
	return cleanupOnce(ctx, opts, *user, *removeAll, stdout)
}

// cleanupOnce runs a single job over opts and prints its outcome. It
// returns the process exit code.
func cleanupOnce(ctx context.Context, opts DirectorOptions, user string, removeAll bool, stdout io.Writer) int {
	logger := opts.Logger
	director, err := NewDirector(opts)
	if err != nil {
		opts.Backends.Close()
		logger.Errorf("failed to create director", map[string]any{"error": err.Error()})
		return 1
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := director.Close(cctx); err != nil {
			logger.Warnf("error closing director", map[string]any{"error": err.Error()})
		}
	}()

	rec, err := director.Cleanup(ctx, user, removeAll)
	if rec.Result != "" {
		fmt.Fprintln(stdout, rec.Result)
	}
	if err != nil {
		logger.Errorf("cleanup failed", map[string]any{
			"job":   rec.ID,
			"error": err.Error(),
		})
		return 1
	}
	return 0
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	healthAddr := fs.String("health-addr", "", "Override health endpoint address (e.g., :9090)")
	schedule := fs.String("schedule", "", "Override cleanup cron schedule (e.g., @daily)")

	fs.Usage = func() {
		fmt.Println(`Usage: reclaimd serve [options]

Run the cleanup service. Jobs are started by the configured cron schedule
and by requests on the Kafka request topic.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *healthAddr != "" {
		cfg.Observability.MetricsAddr = *healthAddr
	}
	if *schedule != "" {
		cfg.Cleanup.Schedule = *schedule
	}

	logger := newLogger(cfg, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := ConnectBackends(ctx, cfg)
	if err != nil {
		logger.Errorf("failed to connect backends", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	director, err := NewDirector(DirectorOptions{Config: cfg, Logger: logger, Backends: backends})
	if err != nil {
		backends.Close()
		logger.Errorf("failed to create director", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	svc, err := NewService(ServiceOptions{
		Config:    cfg,
		Logger:    logger,
		Director:  director,
		Version:   version,
		GitCommit: gitCommit,
		BuildTime: buildTime,
	})
	if err != nil {
		director.Close(ctx)
		logger.Errorf("failed to create service", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start(ctx)
	}()

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Errorf("service error", map[string]any{"error": err.Error()})
			exitCode = 1
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	logger.Info("reclaimd shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
