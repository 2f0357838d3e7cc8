package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dune-client/internal/config"
	"dune-client/pkg/dune"
)

// trackingFlags are shared by every command that waits for an execution.
type trackingFlags struct {
	timeout         time.Duration
	pollInterval    time.Duration
	maxPollInterval time.Duration
	cancelOnTimeout bool
}

func (f *trackingFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "Give up tracking after this long (0 waits forever)")
	cmd.Flags().DurationVar(&f.pollInterval, "poll-interval", config.DefaultPollInterval, "Minimum time between status polls")
	cmd.Flags().DurationVar(&f.maxPollInterval, "max-poll-interval", config.DefaultMaxPollInterval, "Maximum time between status polls")
	cmd.Flags().BoolVar(&f.cancelOnTimeout, "cancel-on-timeout", false, "Cancel the execution remotely when --timeout expires")
}

// trackerConfig resolves flag > env > profile > default for each tracking
// setting. a.env already carries the profile values.
func (f *trackingFlags) trackerConfig(cmd *cobra.Command, a *app) dune.TrackerConfig {
	env := a.env
	if env == nil {
		env = &config.Config{
			PollInterval:    f.pollInterval,
			MaxPollInterval: f.maxPollInterval,
			Timeout:         f.timeout,
			CancelOnTimeout: f.cancelOnTimeout,
		}
	}
	pick := func(name string, flagVal, envVal time.Duration) time.Duration {
		if cmd.Flags().Changed(name) {
			return flagVal
		}
		return envVal
	}

	cfg := dune.TrackerConfig{
		Interval: backoff.Config{
			MinBackoff: pick("poll-interval", f.pollInterval, env.PollInterval),
			MaxBackoff: pick("max-poll-interval", f.maxPollInterval, env.MaxPollInterval),
		},
		Timeout:         pick("timeout", f.timeout, env.Timeout),
		CancelOnTimeout: env.CancelOnTimeout,
		Progress:        a.progress(cmd.ErrOrStderr()),
	}
	if cmd.Flags().Changed("cancel-on-timeout") {
		cfg.CancelOnTimeout = f.cancelOnTimeout
	}
	return cfg
}

// progress returns a status line printer, or nil unless stderr is a terminal.
func (a *app) progress(w io.Writer) func(*dune.ExecutionStatus) {
	if a.quiet {
		return nil
	}
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	started := time.Now()
	return func(st *dune.ExecutionStatus) {
		line := fmt.Sprintf("%s  %s  %s", st.ExecutionID, st.State, time.Since(started).Round(time.Second))
		if st.QueuePosition != nil {
			line += fmt.Sprintf("  queue position %d", *st.QueuePosition)
		}
		_, _ = fmt.Fprintf(f, "\r\033[K%s", line)
		if st.State.IsTerminal() {
			_, _ = fmt.Fprintln(f)
		}
	}
}
