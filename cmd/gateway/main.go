// Package main is the gateway's process entry point: it loads the
// configuration file, builds the app.App root coordinator, starts it,
// and blocks until an OS signal requests shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/edgelink/gateway/app"
	"github.com/edgelink/gateway/config"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(-1)
	}
}

func run() error {
	cli := parseFlags()

	if cli.showVersion {
		fmt.Printf("gateway version %s\n", version)
		return nil
	}

	if cli.configFile == "" {
		flag.Usage()
		return fmt.Errorf("gateway: configFile is required")
	}

	cfg, err := config.Load(cli.configFile)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	logger := setupLogger(cli.logLevel)

	if cli.validate {
		logger.Info("configuration is valid", "config", cli.configFile)
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		execPath = os.Args[0]
	}

	gw, err := app.New(cfg, app.Options{
		ConfigFile:      cli.configFile,
		LogLevel:        cli.logLevel,
		ExecPath:        execPath,
		FirmwareVersion: cli.firmwareVersion,
		MetricsPort:     cli.metricsPort,
	}, logger)
	if err != nil {
		return fmt.Errorf("gateway: build app: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("gateway: start: %w", err)
	}
	logger.Info("gateway started", "key", cfg.Key)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := gw.Close(); err != nil {
		return fmt.Errorf("gateway: shutdown: %w", err)
	}
	logger.Info("gateway shut down cleanly")
	return nil
}

// cliArgs holds the values parsed from the command line: the three
// positional arguments (configFile, logLevel, initialFirmwareVersion),
// plus --version and -validate.
type cliArgs struct {
	configFile      string
	logLevel        string
	firmwareVersion int
	metricsPort     int
	showVersion     bool
	validate        bool
}

func parseFlags() cliArgs {
	var cli cliArgs
	flag.BoolVar(&cli.showVersion, "version", false, "print version and exit")
	flag.BoolVar(&cli.validate, "validate", false, "validate the configuration file and exit without connecting to either broker")
	flag.IntVar(&cli.metricsPort, "metrics-port", 0, "Prometheus metrics listen port, 0 to disable")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s <configFile> [logLevel] [initialFirmwareVersion]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) > 0 {
		cli.configFile = args[0]
	}
	cli.logLevel = "info"
	if len(args) > 1 {
		cli.logLevel = args[1]
	}
	if len(args) > 2 {
		if v, err := strconv.Atoi(args[2]); err == nil {
			cli.firmwareVersion = v
		}
	}
	return cli
}
