package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/actual-software/chat-relay/internal/client"
	"github.com/actual-software/chat-relay/internal/config"
	"github.com/actual-software/chat-relay/internal/logging"
	"github.com/actual-software/chat-relay/internal/poll"
	"github.com/actual-software/chat-relay/internal/transport"
)

var (
	Version   = "v1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var errInterrupted = errors.New("interrupted")

// VersionRequestedError is returned when the version flag is set.
type VersionRequestedError struct{}

func (e VersionRequestedError) Error() string {
	return "version requested"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// the session has already told the user about these
		if !errors.Is(err, client.ErrDuplicateHandle) && !errors.Is(err, client.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}

		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chat-client <handle> <host> <port>",
		Short: "Interactive chat client",
		Long: `chat-client registers a handle with a chat server and reads commands
from standard input:

  %M <n> <handle>... <text>   send text to n (1-9) handles
  %B <text>                   send text to every other client
  %L                          list connected handles
  %E                          exit`,
		Args:          validateArgs,
		RunE:          run,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("transport", "", "Transport (tcp, websocket)")

	return rootCmd
}

// validateArgs requires handle, host and port unless only the version is
// wanted.
func validateArgs(cmd *cobra.Command, args []string) error {
	if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
		return nil
	}

	return cobra.ExactArgs(3)(cmd, args)
}

func run(cmd *cobra.Command, args []string) error {
	if err := handleVersionFlag(cmd); err != nil {
		var errVersionRequested VersionRequestedError
		if errors.As(err, &errVersionRequested) {
			return nil
		}

		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.ServiceClient, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return chat(ctx, cfg, args[0], args[1], args[2], cmd.InOrStdin(), cmd.OutOrStdout(), logger)
}

func handleVersionFlag(cmd *cobra.Command) error {
	showVersion, err := cmd.Flags().GetBool("version")
	if err != nil {
		return fmt.Errorf("failed to get version flag: %w", err)
	}

	if showVersion {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Chat Client\n")
		fmt.Fprintf(out, "Version: %s\n", Version)
		fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)

		return VersionRequestedError{}
	}

	return nil
}

func loadConfig(cmd *cobra.Command) (*config.ClientConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel, _ := cmd.Flags().GetString("log-level"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if transportName, _ := cmd.Flags().GetString("transport"); transportName != "" {
		cfg.Client.Transport = transportName
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// chat connects, registers handle and runs the console loop. It returns nil
// only after the server acknowledged an exit.
func chat(
	ctx context.Context,
	cfg *config.ClientConfig,
	handle, host, port string,
	in io.Reader,
	out io.Writer,
	logger *zap.Logger,
) error {
	conn, err := transport.Dial(ctx, host, port, transport.DialOptions{
		Transport:     cfg.Client.Transport,
		WebSocketPath: cfg.Client.WebSocketPath,
		Timeout:       cfg.Client.DialTimeout,
	})
	if err != nil {
		return err
	}

	session, err := client.NewSession(handle, conn, out, logger)
	if err != nil {
		_ = conn.Close()

		return err
	}
	defer session.Close()

	set := poll.NewSet()
	defer set.Close()

	logger.Debug("connected", zap.String(logging.FieldRemoteAddr, conn.RemoteAddr().String()))

	err = client.New(session, client.NewLineReader(in), set, out, logger).Run(ctx)

	switch {
	case errors.Is(err, client.ErrExitAcknowledged):
		return nil
	case errors.Is(err, context.Canceled):
		return errInterrupted
	default:
		return err
	}
}
