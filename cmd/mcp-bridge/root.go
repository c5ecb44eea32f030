package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	bridge "github.com/ggoodman/mcp-stdio-bridge"
	"github.com/ggoodman/mcp-stdio-bridge/auth"
	"github.com/ggoodman/mcp-stdio-bridge/bridgehttp"
	"github.com/ggoodman/mcp-stdio-bridge/broadcast"
	"github.com/ggoodman/mcp-stdio-bridge/broadcast/redismirror"
	"github.com/ggoodman/mcp-stdio-bridge/internal/config"
	"github.com/ggoodman/mcp-stdio-bridge/internal/logctx"
	"github.com/ggoodman/mcp-stdio-bridge/internal/toolcache"
	"github.com/ggoodman/mcp-stdio-bridge/stdio"
)

const shutdownTimeout = 5 * time.Second

type rootFlags struct {
	port       int
	readOnly   bool
	debug      bool
	initialize bool
}

func newRootCmd(version string) *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "mcp-bridge [flags] [-- child-command [args...]]",
		Short: "Expose a stdio MCP server over HTTP and SSE",
		Long: "mcp-bridge spawns an MCP server speaking JSON-RPC on stdin/stdout and exposes it\n" +
			"over HTTP: an SSE stream of every line it prints, a JSON-RPC invoke endpoint and\n" +
			"a REST layer for listing and calling tools. Without a child command the Supabase\n" +
			"MCP server is started via npx.",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("port") {
				cfg.Port = flags.port
			}
			if fs.Changed("read-only") {
				cfg.ReadOnly = flags.readOnly
			}
			if fs.Changed("debug") {
				cfg.Debug = flags.debug
			}
			if fs.Changed("initialize") {
				cfg.ChildInitialize = flags.initialize
			}
			return serve(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&flags.port, "port", 3000, "listen port (env PORT)")
	fs.BoolVar(&flags.readOnly, "read-only", true, "start the Supabase server read-only (env READ_ONLY)")
	fs.BoolVar(&flags.debug, "debug", false, "log every MCP line (env DEBUG_MCP)")
	fs.BoolVar(&flags.initialize, "initialize", false, "send the MCP initialize handshake on start (env CHILD_INITIALIZE)")

	cmd.AddCommand(newTailCmd())
	return cmd
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(logctx.Handler{Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})})
}

func serve(parent context.Context, cfg config.Config, childArgs []string) error {
	if len(childArgs) > 0 {
		cfg.ChildCommand = childArgs[0]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	command, args, env := cfg.Child()
	if len(childArgs) > 0 {
		args = childArgs[1:]
	}

	log := newLogger(cfg.Debug)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, err := stdio.Start(ctx, command, args, stdio.WithEnv(env...), stdio.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		_ = proc.Close()
	}()

	bridgeOpts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithDebug(cfg.Debug),
		bridge.WithHubOptions(broadcast.WithBuffer(cfg.SSEBuffer)),
	}
	if cfg.MetricsEnabled {
		bridgeOpts = append(bridgeOpts, bridge.WithMetrics())
	}
	if cfg.RedisAddr != "" {
		mirror := redismirror.New(redismirror.Config{Addr: cfg.RedisAddr, Channel: cfg.RedisChannel, Logger: log})
		defer func() {
			_ = mirror.Close()
		}()
		if err := mirror.Ping(ctx); err != nil {
			log.Warn("mirror.unavailable", slog.String("addr", cfg.RedisAddr), slog.String("err", err.Error()))
		}
		bridgeOpts = append(bridgeOpts, bridge.WithMirror(mirror))
	}
	b := bridge.New(proc.Stdin(), bridgeOpts...)

	cacheOpts := []toolcache.Option{toolcache.WithLogger(log)}
	if cfg.ToolsCacheFile != "" {
		cacheOpts = append(cacheOpts, toolcache.WithFile(cfg.ToolsCacheFile))
	}
	tools, err := toolcache.New(cacheOpts...)
	if err != nil {
		return err
	}

	httpOpts := []bridgehttp.Option{
		bridgehttp.WithLogger(log),
		bridgehttp.WithToolCache(tools),
		bridgehttp.WithTimeouts(cfg.ToolsListTimeout, cfg.ToolCallTimeout),
		bridgehttp.WithKeepAlive(cfg.SSEKeepAlive),
		bridgehttp.WithRateLimit(cfg.APIRateLimit, cfg.APIRateBurst),
	}
	if cfg.BridgeToken != "" || cfg.BridgeJWTSecret != "" {
		httpOpts = append(httpOpts, bridgehttp.WithAuthenticator(auth.Any(
			auth.NewStaticToken(cfg.BridgeToken),
			auth.NewHS256([]byte(cfg.BridgeJWTSecret)),
		)))
	}
	handler, err := bridgehttp.New(b, httpOpts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.Run(gctx, proc.Stdout()) })
	g.Go(proc.Wait)
	g.Go(func() error {
		log.Info("http.listen", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return proc.Close()
	})
	g.Go(func() error { return tools.Watch(gctx) })
	if cfg.ChildInitialize {
		g.Go(func() error {
			info := bridge.ClientInfo{Name: bridgehttp.DefaultServerName, Version: bridgehttp.DefaultServerVersion}
			if err := b.Initialize(gctx, info, cfg.ToolsListTimeout); err != nil {
				log.Warn("child.initialize.fail", slog.String("err", err.Error()))
			}
			return nil
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		// Interrupted: the child was stopped on our behalf.
		log.Info("shutdown", slog.String("cause", context.Cause(ctx).Error()))
		return nil
	}
	return err
}

func newTailCmd() *cobra.Command {
	var addr, channel string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print records mirrored to Redis by a running bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mirror := redismirror.New(redismirror.Config{Addr: addr, Channel: channel})
			defer func() {
				_ = mirror.Close()
			}()

			out := cmd.OutOrStdout()
			err := mirror.Subscribe(ctx, func(record string) {
				fmt.Fprintln(out, record)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
	cmd.Flags().StringVar(&channel, "channel", envOr("REDIS_CHANNEL", redismirror.DefaultChannel), "pub/sub channel")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
