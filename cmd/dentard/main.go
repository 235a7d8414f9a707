// Command dentard runs the dental model fit service: camera, face mesh,
// segmentation, placement and the MQTT control plane.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/dentar/internal/config"
	"github.com/e7canasta/dentar/internal/core"
)

const defaultConfigPath = "config/dentar.yaml"

// Exit codes.
const (
	exitOK      = 0
	exitRuntime = 1 // service failed while running or shutting down
	exitUsage   = 2 // bad flags or unusable configuration
)

type options struct {
	configPath string
	debug      bool
	healthAddr string
	check      bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("dentard", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", defaultConfigPath, "Path to configuration file")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&o.healthAddr, "health-addr", "", "Override health.addr from the config")
	fs.BoolVar(&o.check, "check", false, "Validate the configuration and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func run(args []string, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "dentard: %v\n", err)
		return exitUsage
	}

	if o.check {
		return checkConfig(o.configPath, stderr)
	}

	slog.SetDefault(newLogger(os.Stdout, o.debug))
	slog.Info("starting dentar service", "config", o.configPath, "debug", o.debug)

	dentar, err := core.NewDentar(o.configPath)
	if err != nil {
		slog.Error("failed to create dentar service", "error", err)
		return exitUsage
	}

	addr := o.healthAddr
	if addr == "" {
		addr = dentar.HealthAddr()
	}
	if err := dentar.StartHealthServer(addr); err != nil {
		slog.Error("failed to start health check server", "error", err, "addr", addr)
		return exitRuntime
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run returns on a signal, an MQTT shutdown command or a startup failure.
	runErr := dentar.Run(ctx)
	switch {
	case runErr != nil:
		slog.Error("service error", "error", runErr)
	case ctx.Err() != nil:
		slog.Info("received shutdown signal")
	default:
		slog.Info("service stopped by shutdown command")
	}
	stop()

	timeout := dentar.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := dentar.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		return exitRuntime
	}
	if runErr != nil {
		return exitRuntime
	}
	slog.Info("dentar service stopped successfully")
	return exitOK
}

// checkConfig loads and validates path without touching any device.
func checkConfig(path string, w io.Writer) int {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(w, "dentard: %s: %v\n", path, err)
		return exitUsage
	}
	fmt.Fprintf(w, "%s: ok (instance %s, camera %s, models %s)\n",
		path, cfg.InstanceID, cfg.Camera.Backend, cfg.Models.Backend)
	return exitOK
}
