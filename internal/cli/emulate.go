package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/st-keller/ultrasync/config"
	"github.com/st-keller/ultrasync/fakepanel"
	"github.com/st-keller/ultrasync/panel"
)

// EmulateOptions configures the emulated panel.
type EmulateOptions struct {
	Listen   string
	User     string
	Pin      string
	Areas    []string
	Zones    []string
	Duration time.Duration
}

// NewEmulateCommand creates the emulate command.
func NewEmulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmulateOptions{}

	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Serve an emulated panel for testing",
		Long: `Serve an in-memory panel that speaks the same pages as a real one:
login, sequence vectors, area and zone state, key and zone functions.

Point the other commands at it with --config or ULTRASYNC_HOST.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmulate(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Listen, "listen", "l", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.User, "user", "User 1", "accepted user name")
	cmd.Flags().StringVar(&opts.Pin, "pin", "1234", "accepted PIN")
	cmd.Flags().StringSliceVar(&opts.Areas, "areas", []string{"Home"}, "area names (! for an unused slot)")
	cmd.Flags().StringSliceVar(&opts.Zones, "zones", []string{"Front door", "Back door", "Garage", "Hallway"}, "zone names (! for an unused slot)")
	cmd.Flags().DurationVar(&opts.Duration, "for", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func runEmulate(rootOpts *RootOptions, opts *EmulateOptions, cmd *cobra.Command) error {
	logger := rootOpts.logger(&config.Settings{Logging: config.LoggingConfig{Level: "info", Format: "text"}}, cmd.ErrOrStderr())

	p := fakepanel.New(fakepanel.Options{
		User:      opts.User,
		Pin:       opts.Pin,
		AreaNames: escapeNames(opts.Areas),
		ZoneNames: escapeNames(opts.Zones),
		Logger:    logger,
	})

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Emulating panel on http://%s (user %q, pin %q)\n", ln.Addr(), opts.User, opts.Pin)

	ctx := cmd.Context()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	select {
	case err := <-errCh:
		return WrapExitError(ExitFailure, "panel emulator stopped", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "failed to stop panel emulator", err)
	}
	return nil
}

// escapeNames encodes names the way the panel stores them.
func escapeNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if n == panel.Unused {
			out[i] = n
			continue
		}
		out[i] = url.PathEscape(n)
	}
	return out
}
