package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/st-keller/ultrasync"
	"github.com/st-keller/ultrasync/history"
	"github.com/st-keller/ultrasync/registry"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		historyPath string
		duration    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow area and zone changes as they happen",
		Long: `Log in, print the current state and then print every area or zone whose
state changes. With --history every bank change is also written to a SQLite
journal that the history command can read back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, historyPath, duration, cmd)
		},
	}

	cmd.Flags().StringVar(&historyPath, "history", "", "journal database (default: history from config)")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func runWatch(opts *RootOptions, historyPath string, duration time.Duration, cmd *cobra.Command) error {
	client, s, err := opts.connect(cmd)
	if err != nil {
		return err
	}
	defer disconnect(client, requestTimeout(s))

	if historyPath == "" {
		historyPath = s.History
	}
	var journal *history.Journal
	if historyPath != "" {
		journal, err = history.Open(historyPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open history", err)
		}
		// Stop the client first so no change hook writes to a closed journal.
		defer func() {
			client.Stop()
			journal.Close()
		}()
	}

	w := newWatcher(cmd.OutOrStdout(), client)
	w.snapshot()

	client.Registry().OnChange(func(ch registry.Change) {
		if journal != nil {
			if _, err := journal.Record(context.Background(), ch); err != nil {
				client.GetLogs().Warn("Failed to record change", map[string]interface{}{
					"kind":  ch.Kind.String(),
					"bank":  ch.Bank,
					"error": err.Error(),
				})
			}
		}
		w.changed(ch.At)
	})

	if err := client.Start(); err != nil {
		return WrapExitError(ExitFailure, "failed to start client", err)
	}

	ctx := cmd.Context()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	<-ctx.Done()
	return nil
}

// watcher prints the lines whose rendering changed since the last print.
type watcher struct {
	out    io.Writer
	client *ultrasync.Client

	mu   sync.Mutex
	last map[string]string
}

func newWatcher(out io.Writer, client *ultrasync.Client) *watcher {
	return &watcher{out: out, client: client, last: map[string]string{}}
}

func (w *watcher) lines() ([]string, map[string]string) {
	var keys []string
	lines := map[string]string{}

	keys = append(keys, "system")
	lines["system"] = renderSystem(w.client.System())
	for _, a := range w.client.Areas() {
		key := fmt.Sprintf("area/%d", a.Number)
		keys = append(keys, key)
		lines[key] = renderArea(a)
	}
	for _, z := range w.client.Zones() {
		key := fmt.Sprintf("zone/%d", z.Number)
		keys = append(keys, key)
		lines[key] = renderZone(z)
	}
	return keys, lines
}

// snapshot prints everything.
func (w *watcher) snapshot() {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys, lines := w.lines()
	for _, key := range keys {
		fmt.Fprintln(w.out, lines[key])
	}
	w.last = lines
}

func (w *watcher) changed(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys, lines := w.lines()
	for _, key := range keys {
		if w.last[key] != lines[key] {
			fmt.Fprintf(w.out, "%s %s\n", at.Format("15:04:05"), lines[key])
		}
	}
	w.last = lines
}
