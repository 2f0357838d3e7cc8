package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dune-client/pkg/dune"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	switch output {
	case "", "table", "json", "csv":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q: use 'table', 'json' or 'csv'", output)
	}
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable writes rows under uppercased headers, columns separated by two spaces.
func PrintTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i := range columns {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	writeLine := func(cells []string) {
		var b strings.Builder
		for i := range columns {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(columns)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-len(cell)+2))
		}
		_, _ = fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}

	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = strings.ToUpper(c)
	}
	writeLine(headers)
	for _, row := range rows {
		writeLine(row)
	}
}

// PrintCSV writes a header and rows as RFC 4180 CSV.
func PrintCSV(w io.Writer, columns []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// PrintDetail writes key: value lines sorted by key with aligned values.
func PrintDetail(w io.Writer, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	maxLen := 0
	for k := range fields {
		keys = append(keys, k)
		maxLen = max(maxLen, len(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%s:%s  %s\n", k, strings.Repeat(" ", maxLen-len(k)), formatValue(fields[k]))
	}
}

// formatValue renders a cell for table and CSV output. Nil is empty and
// nested values are JSON.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.Format(time.RFC3339)
	case time.Time:
		return x.Format(time.RFC3339)
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// statusFields flattens a status for PrintDetail, leaving out absent values.
func statusFields(st *dune.ExecutionStatus) map[string]interface{} {
	fields := map[string]interface{}{
		"execution_id": st.ExecutionID,
		"state":        st.State.String(),
	}
	if st.QueryID != nil {
		fields["query_id"] = *st.QueryID
	}
	if st.QueuePosition != nil {
		fields["queue_position"] = *st.QueuePosition
	}
	for key, ts := range map[string]*time.Time{
		"submitted_at":         st.SubmittedAt,
		"execution_started_at": st.ExecutionStartedAt,
		"execution_ended_at":   st.ExecutionEndedAt,
		"expires_at":           st.ExpiresAt,
		"cancelled_at":         st.CancelledAt,
	} {
		if ts != nil {
			fields[key] = ts
		}
	}
	if st.Error != nil {
		fields["error"] = st.Error.Message
	}
	return fields
}

var statusColumns = []string{"execution_id", "state", "queue_position", "submitted_at", "execution_ended_at", "error"}

func statusRow(st *dune.ExecutionStatus) []string {
	row := []string{st.ExecutionID, st.State.String(), "", formatValue(st.SubmittedAt), formatValue(st.ExecutionEndedAt), ""}
	if st.QueuePosition != nil {
		row[2] = fmt.Sprintf("%d", *st.QueuePosition)
	}
	if st.Error != nil {
		row[5] = st.Error.Message
	}
	return row
}

// resultRows orders row cells by the result's column names.
func resultRows(data *dune.ResultData) (columns []string, rows [][]string) {
	if data == nil {
		return nil, nil
	}
	columns = data.Metadata.ColumnNames
	rows = make([][]string, len(data.Rows))
	for i, r := range data.Rows {
		cells := make([]string, len(columns))
		for j, c := range columns {
			cells[j] = formatValue(r[c])
		}
		rows[i] = cells
	}
	return columns, rows
}

// printResults renders results in the selected output format.
func printResults(cmd *cobra.Command, res *dune.ExecutionResults) error {
	out := cmd.OutOrStdout()
	switch getOutputFormat(cmd) {
	case "json":
		return PrintJSON(out, res)
	case "csv":
		columns, rows := resultRows(res.Result)
		return PrintCSV(out, columns, rows)
	}
	if res.Result == nil {
		_, _ = fmt.Fprintf(out, "Execution %s is %s; no results available\n", res.ExecutionID, res.State)
		return nil
	}
	columns, rows := resultRows(res.Result)
	PrintTable(out, columns, rows)
	if next := res.NextOffset; next != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d rows shown; next page at --offset %d\n",
			len(rows), res.Result.Metadata.TotalRowCount, *next)
	}
	return nil
}
