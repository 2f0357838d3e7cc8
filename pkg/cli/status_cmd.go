package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"dune-client/pkg/dune"
)

// maxConcurrentStatus bounds parallel status requests for `status a b c`.
const maxConcurrentStatus = 8

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-id>...",
		Short: "Show the current state of one or more executions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]*dune.ExecutionStatus, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(maxConcurrentStatus)
			for i, id := range args {
				g.Go(func() error {
					st, err := a.client.Status(ctx, id)
					if err != nil {
						return fmt.Errorf("execution %s: %w", id, err)
					}
					statuses[i] = st
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if len(statuses) == 1 {
				return printStatus(cmd, a, statuses[0])
			}
			out := cmd.OutOrStdout()
			switch getOutputFormat(cmd) {
			case "json":
				return PrintJSON(out, statuses)
			case "csv":
				rows := make([][]string, len(statuses))
				for i, st := range statuses {
					rows[i] = statusRow(st)
				}
				return PrintCSV(out, statusColumns, rows)
			}
			if a.quiet {
				for _, st := range statuses {
					_, _ = fmt.Fprintf(out, "%s\t%s\n", st.ExecutionID, st.State)
				}
				return nil
			}
			rows := make([][]string, len(statuses))
			for i, st := range statuses {
				rows[i] = statusRow(st)
			}
			PrintTable(out, statusColumns, rows)
			return nil
		},
	}
}

func newWaitCmd(a *app) *cobra.Command {
	var tracking trackingFlags

	cmd := &cobra.Command{
		Use:   "wait <execution-id>",
		Short: "Track an execution until it completes, fails or is cancelled",
		Long: `Poll the execution status until it reaches a terminal state. A failed or
cancelled execution exits non-zero. When --timeout expires the command stops
polling; the execution keeps running unless --cancel-on-timeout is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The handle state is unknown until the first poll.
			h := dune.Handle{ExecutionID: args[0], State: dune.StatePending}
			st, err := a.client.Tracker(tracking.trackerConfig(cmd, a)).Wait(cmd.Context(), h)
			if err != nil {
				return err
			}
			return printStatus(cmd, a, st)
		},
	}

	tracking.register(cmd)

	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Request cancellation of an execution",
		Long: `Ask the service to cancel an execution. Cancellation is asynchronous: the
execution reports QUERY_STATE_CANCELLED on a later status poll.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(out, map[string]interface{}{
					"execution_id": args[0],
					"success":      ok,
				})
			}
			if !ok {
				_, _ = fmt.Fprintf(out, "Execution %s was not cancelled; it may already be finished\n", args[0])
				return nil
			}
			_, _ = fmt.Fprintf(out, "Cancellation requested for execution %s\n", args[0])
			return nil
		},
	}
}
