package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dune-client/pkg/dune"
)

func newExecuteCmd(a *app) *cobra.Command {
	var (
		sql         string
		queryID     int64
		params      []string
		performance string
		wait        bool
		results     bool
		limit       int
		tracking    trackingFlags
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Submit SQL or a saved query for execution",
		Long: `Submit SQL text (--sql, or stdin when --sql is "-" or omitted) or a saved
query (--query-id). By default the execution id is printed and the command
returns immediately; --wait tracks it to a terminal state and --results also
fetches the first page of rows.`,
		Example: `  dune execute --sql "SELECT 1"
  echo "SELECT number FROM ethereum.blocks LIMIT 5" | dune execute --results
  dune execute --query-id 1215383 --param chain=text:ethereum --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			perf := dune.Performance(performance)

			var h *dune.Handle
			if cmd.Flags().Changed("query-id") {
				if cmd.Flags().Changed("sql") {
					return fmt.Errorf("--sql and --query-id are mutually exclusive")
				}
				h, err = a.client.ExecuteQuery(ctx, queryID, dune.ExecuteQueryRequest{Parameters: parsed, Performance: perf})
			} else {
				if sql == "" || sql == "-" {
					if sql, err = readSQL(cmd.InOrStdin()); err != nil {
						return err
					}
				}
				h, err = a.client.ExecuteSQL(ctx, dune.ExecuteSQLRequest{SQL: sql, Parameters: parsed, Performance: perf})
			}
			if err != nil {
				return err
			}

			if !wait && !results {
				return printHandle(cmd, a, h)
			}

			st, err := a.client.Tracker(tracking.trackerConfig(cmd, a)).Wait(ctx, *h)
			if err != nil {
				return err
			}
			if !results {
				return printStatus(cmd, a, st)
			}

			opts := dune.ResultOptions{}
			if limit > 0 {
				opts = opts.WithLimit(limit)
			}
			res, err := a.client.Results(ctx, st.ExecutionID, opts)
			if err != nil {
				return err
			}
			return printResults(cmd, res)
		},
	}

	cmd.Flags().StringVar(&sql, "sql", "", `SQL text to execute ("-" reads stdin)`)
	cmd.Flags().Int64Var(&queryID, "query-id", 0, "Saved query id to execute")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Query parameter as key=type:value or key=value (repeatable)")
	cmd.Flags().StringVar(&performance, "performance", "", "Engine size: medium or large")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the execution to finish")
	cmd.Flags().BoolVar(&results, "results", false, "Wait and print the results")
	cmd.Flags().IntVar(&limit, "limit", 0, "Rows to fetch with --results (0 means the service default)")
	tracking.register(cmd)

	return cmd
}

func newPipelineCmd(a *app) *cobra.Command {
	var performance string

	cmd := &cobra.Command{
		Use:   "pipeline <query-id>",
		Short: "Execute a saved query together with its upstream dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queryID, err := parseQueryID(args[0])
			if err != nil {
				return err
			}
			h, err := a.client.ExecutePipeline(cmd.Context(), queryID, dune.ExecutePipelineRequest{
				Performance: dune.Performance(performance),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case a.quiet:
				_, _ = fmt.Fprintln(out, h.PipelineExecutionID)
				return nil
			case getOutputFormat(cmd) == "json":
				return PrintJSON(out, h)
			}
			PrintDetail(out, map[string]interface{}{
				"pipeline_execution_id": h.PipelineExecutionID,
				"state":                 h.State.String(),
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&performance, "performance", "", "Engine size: medium or large")

	return cmd
}

// parseParams turns key=type:value (or key=value for text) into parameters.
func parseParams(raw []string) ([]dune.QueryParameter, error) {
	var params []dune.QueryParameter
	for _, p := range raw {
		key, rest, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=type:value", p)
		}
		param := dune.QueryParameter{Key: key, Type: dune.ParamText, Value: rest}
		if typ, value, ok := strings.Cut(rest, ":"); ok {
			switch t := dune.ParameterType(typ); t {
			case dune.ParamText, dune.ParamNumber, dune.ParamDate, dune.ParamEnum:
				param.Type, param.Value = t, value
			}
		}
		params = append(params, param)
	}
	return params, nil
}

func readSQL(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read sql from stdin: %w", err)
	}
	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return "", fmt.Errorf("no SQL given: pass --sql, pipe SQL on stdin, or use --query-id")
	}
	return sql, nil
}

func printHandle(cmd *cobra.Command, a *app, h *dune.Handle) error {
	out := cmd.OutOrStdout()
	switch {
	case a.quiet:
		_, _ = fmt.Fprintln(out, h.ExecutionID)
		return nil
	case getOutputFormat(cmd) == "json":
		return PrintJSON(out, h)
	}
	PrintDetail(out, map[string]interface{}{
		"execution_id": h.ExecutionID,
		"state":        h.State.String(),
	})
	return nil
}

func printStatus(cmd *cobra.Command, a *app, st *dune.ExecutionStatus) error {
	out := cmd.OutOrStdout()
	switch {
	case a.quiet:
		_, _ = fmt.Fprintln(out, st.ExecutionID)
		return nil
	case getOutputFormat(cmd) == "json":
		return PrintJSON(out, st)
	case getOutputFormat(cmd) == "csv":
		return PrintCSV(out, statusColumns, [][]string{statusRow(st)})
	}
	PrintDetail(out, statusFields(st))
	return nil
}
