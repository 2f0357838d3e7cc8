package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"dune-client/pkg/dune"
)

// resultFlags map onto dune.ResultOptions.
type resultFlags struct {
	limit   int
	offset  int
	sortBy  string
	order   string
	columns []string
	filters string
}

func (f *resultFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum rows to return")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "Rows to skip")
	cmd.Flags().StringVar(&f.sortBy, "sort-by", "", "Column to sort by")
	cmd.Flags().StringVar(&f.order, "order", "", "Sort order: asc or desc")
	cmd.Flags().StringSliceVar(&f.columns, "columns", nil, "Columns to return (comma separated)")
	cmd.Flags().StringVar(&f.filters, "filters", "", "Row filter expression")
}

func (f *resultFlags) options(cmd *cobra.Command) (dune.ResultOptions, error) {
	var opts dune.ResultOptions
	if cmd.Flags().Changed("limit") {
		opts = opts.WithLimit(f.limit)
	}
	if cmd.Flags().Changed("offset") {
		opts = opts.WithOffset(f.offset)
	}
	switch dune.SortOrder(f.order) {
	case "", dune.SortAsc, dune.SortDesc:
	default:
		return opts, fmt.Errorf("invalid --order %q: use asc or desc", f.order)
	}
	if f.sortBy != "" || f.order != "" {
		opts = opts.WithSort(f.sortBy, dune.SortOrder(f.order))
	}
	if len(f.columns) > 0 {
		opts = opts.WithColumns(f.columns...)
	}
	if f.filters != "" {
		opts = opts.WithFilters(f.filters)
	}
	return opts, nil
}

func newResultsCmd(a *app) *cobra.Command {
	var (
		flags    resultFlags
		all      bool
		pageSize int
		csv      bool
	)

	cmd := &cobra.Command{
		Use:   "results <execution-id>",
		Short: "Fetch the results of a completed execution",
		Long: `Fetch one page of results, or every page with --all. --csv downloads the
service's CSV rendering unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}

			switch {
			case csv && all:
				return fmt.Errorf("--csv and --all are mutually exclusive")
			case all && cmd.Flags().Changed("limit"):
				return fmt.Errorf("--limit and --all are mutually exclusive: use --page-size")
			case csv:
				data, err := a.client.ResultsCSV(ctx, id, opts)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			case all:
				res, err := a.client.AllResults(ctx, id, opts, pageSize)
				if err != nil {
					return err
				}
				return printResults(cmd, res)
			}

			res, err := a.client.Results(ctx, id, opts)
			if err != nil {
				return err
			}
			return printResults(cmd, res)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Fetch every page and merge the rows")
	cmd.Flags().IntVar(&pageSize, "page-size", 1000, "Rows per request with --all")
	cmd.Flags().BoolVar(&csv, "csv", false, "Download results as CSV")

	return cmd
}

func newLatestCmd(a *app) *cobra.Command {
	var flags resultFlags

	cmd := &cobra.Command{
		Use:   "latest <query-id>",
		Short: "Fetch the results of a saved query's most recent execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queryID, err := parseQueryID(args[0])
			if err != nil {
				return err
			}
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			res, err := a.client.LatestResults(cmd.Context(), queryID, opts)
			if err != nil {
				return err
			}
			return printResults(cmd, res)
		},
	}

	flags.register(cmd)

	return cmd
}

func parseQueryID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid query id %q: expected a positive integer", s)
	}
	return id, nil
}
