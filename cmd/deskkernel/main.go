package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/jupyter-desktop/kernelcore/coordinator"
	"github.com/jupyter-desktop/kernelcore/desktop"
	"github.com/jupyter-desktop/kernelcore/observability"
	"github.com/jupyter-desktop/kernelcore/router"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to desktop config JSON file")
		serverURL  = flag.String("server", "", "Kernel server base URL (overrides config)")
		token      = flag.String("token", "", "Kernel server API token (overrides config)")
		code       = flag.String("code", "", "Python code to execute (required)")
		windowID   = flag.String("window", "win-cli", "Window id to attribute the run to")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	if *code == "" {
		fmt.Fprintln(os.Stderr, "Usage: deskkernel -code <python> [-config <file>] [-server <url>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := desktop.DefaultConfig()
	if *configFile != "" {
		loaded, err := desktop.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}
	if *serverURL != "" {
		cfg.Server.BaseURL = *serverURL
	}
	if *token != "" {
		cfg.Server.Token = *token
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	core := desktop.New(cfg, desktop.WithObserver(observability.NewSlogObserver(logger)))
	defer core.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := core.RunPython(ctx, *code, *windowID)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	for _, record := range core.Output(*windowID) {
		switch record.Kind {
		case router.KindStderr, router.KindError:
			fmt.Fprintln(os.Stderr, record.Text)
		default:
			fmt.Println(record.Text)
		}
	}

	if result.Status != coordinator.RunCompleted {
		fmt.Fprintf(os.Stderr, "Run finished with status %s", result.Status)
		if result.Name != "" {
			fmt.Fprintf(os.Stderr, ": %s: %s", result.Name, result.Message)
		}
		fmt.Fprintln(os.Stderr)
		os.Exit(1)
	}
}
