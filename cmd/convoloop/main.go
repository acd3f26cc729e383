// Command convoloop runs the chat runtime HTTP server.
//
// Usage:
//
//	convoloop serve --config server.yaml
//	convoloop version
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/convoloop/convoloop/pkg/chat"
	"github.com/convoloop/convoloop/pkg/config"
	"github.com/convoloop/convoloop/pkg/logger"
	"github.com/convoloop/convoloop/pkg/server"
	"github.com/convoloop/convoloop/pkg/tokens"
)

// Exit codes.
const (
	exitOK         = 0
	exitConfig     = 1
	exitDependency = 2
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`

	Config string `short:"c" help:"Path to server config file." type:"path"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("convoloop version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host      string `help:"Listen host (overrides config)."`
	Port      int    `help:"Listen port (overrides config)."`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFormat string `help:"Log format (simple, verbose)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.LoadServer(cli.Config)
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}
	c.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return &exitError{code: exitConfig, err: err}
	}

	output := os.Stderr
	if cfg.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cfg.LogFile)
		if err != nil {
			return &exitError{code: exitConfig, err: fmt.Errorf("failed to open log file: %w", err)}
		}
		defer cleanup()
		output = file
	}
	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, output, cfg.LogFormat)

	orchestrator := chat.New(tokens.NewRegistry())
	srv := server.New(cfg, orchestrator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
		cancel()
	}()

	if err := srv.Start(); err != nil {
		return &exitError{code: exitDependency, err: fmt.Errorf("server failed: %w", err)}
	}
	return nil
}

func (c *ServeCmd) applyOverrides(cfg *config.ServerConfig) {
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.LogFormat = c.LogFormat
	}
	if c.LogFile != "" {
		cfg.LogFile = c.LogFile
	}
}

// exitError carries a process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func main() {
	// A missing .env is fine; environment variables win either way.
	_ = godotenv.Load()

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("convoloop"),
		kong.Description("FSM-driven LLM agent chat runtime."),
		kong.UsageOnError(),
	)

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var xerr *exitError
		if errors.As(err, &xerr) {
			os.Exit(xerr.code)
		}
		os.Exit(exitConfig)
	}
	os.Exit(exitOK)
}
