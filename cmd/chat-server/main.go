package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/actual-software/chat-relay/internal/config"
	"github.com/actual-software/chat-relay/internal/logging"
	"github.com/actual-software/chat-relay/internal/metrics"
	"github.com/actual-software/chat-relay/internal/poll"
	"github.com/actual-software/chat-relay/internal/server"
	"github.com/actual-software/chat-relay/internal/transport"
)

const (
	defaultTimeoutSeconds  = 30
	shutdownTimeoutSeconds = 5
)

var (
	Version   = "v1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionRequestedError is returned when the version flag is set.
type VersionRequestedError struct{}

func (e VersionRequestedError) Error() string {
	return "version requested"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chat-server [port]",
		Short: "Chat relay server",
		Long: `chat-server tracks connected clients by handle and relays directed
messages, broadcasts and handle lists between them. A port of 0 or no
port lets the operating system pick one.`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          run,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("transport", "", "Transport (tcp, websocket)")
	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")

	return rootCmd
}

func run(cmd *cobra.Command, args []string) error {
	if err := handleVersionFlag(cmd); err != nil {
		var errVersionRequested VersionRequestedError
		if errors.As(err, &errVersionRequested) {
			return nil
		}

		return err
	}

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.ServiceServer, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, cmd.OutOrStdout(), logger)
}

func handleVersionFlag(cmd *cobra.Command) error {
	showVersion, err := cmd.Flags().GetBool("version")
	if err != nil {
		return fmt.Errorf("failed to get version flag: %w", err)
	}

	if showVersion {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Chat Server\n")
		fmt.Fprintf(out, "Version: %s\n", Version)
		fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)

		return VersionRequestedError{}
	}

	return nil
}

// loadConfig reads the configuration file and applies the port argument and
// flag overrides on top of it.
func loadConfig(cmd *cobra.Command, args []string) (*config.ServerConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", args[0], err)
		}

		cfg.Server.Port = port
	}

	if logLevel, _ := cmd.Flags().GetString("log-level"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if transportName, _ := cmd.Flags().GetString("transport"); transportName != "" {
		cfg.Server.Transport = transportName
	}

	if metricsAddr, _ := cmd.Flags().GetString("metrics-addr"); metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// serve runs the relay until ctx is canceled or a fatal error occurs, then
// shuts everything down.
func serve(ctx context.Context, cfg *config.ServerConfig, out io.Writer, logger *zap.Logger) error {
	ln, err := transport.Listen(ctx, cfg.Server.Address(), transport.ListenOptions{
		Transport:     cfg.Server.Transport,
		WebSocketPath: cfg.Server.WebSocketPath,
	}, logger)
	if err != nil {
		return err
	}

	var (
		registry      *metrics.Registry
		metricsServer *http.Server
	)

	if cfg.Metrics.Enabled {
		registry = metrics.New()
		metricsServer = startMetricsServer(cfg.Metrics.Address, registry, logger)
	}

	set := poll.NewSet()
	defer set.Close()

	srv := server.New(ln, set, server.Options{
		InitialCapacity: cfg.Registry.InitialCapacity,
		FramesPerSecond: cfg.Limits.FramesPerSecond,
		Burst:           cfg.Limits.Burst,
	}, logger, registry)

	fmt.Fprintf(out, "Server is using port %s\n", portOf(srv.Addr()))

	logger.Info("Starting chat server",
		zap.String(logging.FieldVersion, Version),
		zap.String(logging.FieldTransport, cfg.Server.Transport),
		zap.String(logging.FieldAddress, srv.Addr().String()),
	)

	serveErr := srv.Serve(ctx)
	if serveErr != nil {
		logging.LogError(logger, "Chat server stopped", serveErr)
	}

	shutdown(srv, metricsServer, logger)

	return serveErr
}

func startMetricsServer(addr string, registry *metrics.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultTimeoutSeconds * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String(logging.FieldAddress, addr))

		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	return metricsServer
}

func shutdown(srv *server.Server, metricsServer *http.Server, logger *zap.Logger) {
	logger.Info("Starting graceful shutdown")

	if err := srv.Close(); err != nil {
		logger.Error("Error closing listener", zap.Error(err))
	}

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
		defer cancel()

		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down metrics server", zap.Error(err))
		}
	}

	logger.Info("Chat server shutdown complete")
}

func portOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return strconv.Itoa(tcp.Port)
	}

	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}

	return port
}
