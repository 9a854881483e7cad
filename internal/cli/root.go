// Package cli implements the ultrasync command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/st-keller/ultrasync"
	"github.com/st-keller/ultrasync/config"
	"github.com/st-keller/ultrasync/standard"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    int
}

// NewRootCommand creates the root command for the ultrasync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ultrasync",
		Short: "Monitor and control an UltraSync / ComNav alarm panel",
		Long: `Talks to the embedded web server of an Interlogix UltraSync or ComNav
alarm panel: shows area and zone state, arms and disarms areas, bypasses
zones and follows state changes as they happen.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default is $HOME/.ultrasync or $HOME/.config/ultrasync)")
	cmd.PersistentFlags().CountVarP(&opts.Verbose, "verbose", "v", "increase log verbosity (-v info, -vv debug)")

	cmd.AddCommand(NewDetailsCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewArmCommand(opts))
	cmd.AddCommand(NewChimeCommand(opts))
	cmd.AddCommand(NewBypassCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewEmulateCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func (o *RootOptions) settings() (*config.Settings, error) {
	s, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return s, nil
}

// logger honours -v over the configured level.
func (o *RootOptions) logger(s *config.Settings, w io.Writer) *slog.Logger {
	level := s.Logging.Level
	switch {
	case o.Verbose >= 2:
		level = string(standard.LevelDebug)
	case o.Verbose == 1:
		level = string(standard.LevelInfo)
	}
	return standard.NewLogger(w, s.Logging.Format, level)
}

// connect loads the settings and logs in. The caller owns the returned
// client and must call disconnect.
func (o *RootOptions) connect(cmd *cobra.Command) (*ultrasync.Client, *config.Settings, error) {
	s, err := o.settings()
	if err != nil {
		return nil, nil, err
	}

	cfg := s.ClientConfig()
	cfg.Logger = o.logger(s, cmd.ErrOrStderr())
	client, err := ultrasync.New(cfg)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to create client", err)
	}

	if err := client.Login(cmd.Context()); err != nil {
		return nil, nil, WrapExitError(ExitFailure, fmt.Sprintf("failed to log in to %s", s.Host), err)
	}
	return client, s, nil
}

// disconnect stops the client and ends the panel session.
func disconnect(client *ultrasync.Client, timeout time.Duration) {
	client.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Logout(ctx); err != nil {
		client.GetLogs().Warn("Logout failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// waitUntil polls cond until it holds or timeout passes.
func waitUntil(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return cond()
		case <-ticker.C:
		}
	}
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ultrasync %s\n", Version)
			return nil
		},
	}
}

// requestTimeout is the configured per-request deadline.
func requestTimeout(s *config.Settings) time.Duration {
	if s.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}
