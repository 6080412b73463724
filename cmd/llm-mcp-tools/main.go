// Command llm-mcp-tools runs the chat orchestration server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/visionliao/llm-mcp-tools/pkg/config"
	"github.com/visionliao/llm-mcp-tools/pkg/logger"
	"github.com/visionliao/llm-mcp-tools/pkg/server"
	"github.com/visionliao/llm-mcp-tools/pkg/tools"
)

var cli struct {
	Serve ServeCmd `cmd:"" default:"1" help:"Start the chat server."`
}

type ServeCmd struct {
	Host     string `help:"Listen address." default:"0.0.0.0"`
	Port     int    `help:"Listen port." default:"8080"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

func (c *ServeCmd) Run() error {
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logger.Init(level)

	if err := config.LoadEnvFiles(); err != nil {
		return err
	}

	registry := config.NewRegistryFromEnv()
	providers := registry.Providers()
	if len(providers) == 0 {
		slog.Warn("No providers configured; set <PROVIDER>_API_KEY and <PROVIDER>_MODEL_LIST")
	} else {
		slog.Info("Providers configured", "providers", providers)
	}

	srv := server.New(registry, tools.NewRegistry())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf("%s:%d", c.Host, c.Port))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("llm-mcp-tools"),
		kong.Description("LLM chat orchestration with MCP and HTTP tool servers."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
