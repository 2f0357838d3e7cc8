package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// CommandEntry describes one CLI command for introspection output.
type CommandEntry struct {
	Path    string      `json:"path"`
	Short   string      `json:"short"`
	Long    string      `json:"long,omitempty"`
	Example string      `json:"example,omitempty"`
	Args    string      `json:"args,omitempty"`
	Flags   []FlagEntry `json:"flags,omitempty"`
}

// FlagEntry describes one flag of a command.
type FlagEntry struct {
	Name    string `json:"name"`
	Short   string `json:"shorthand,omitempty"`
	Type    string `json:"type"`
	Default string `json:"default,omitempty"`
	Usage   string `json:"usage,omitempty"`
}

func newCommandsCmd() *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List every command with its flags",
		Long: `Walk the command tree and list each command with its arguments, flags and
examples. Needs no API access.`,
		Example: `  dune commands
  dune commands --filter results -o json`,
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := walkCommands(cmd.Root(), "")
			if filter != "" {
				needle := strings.ToLower(filter)
				var filtered []CommandEntry
				for _, e := range entries {
					if strings.Contains(strings.ToLower(e.Path+" "+e.Short+" "+e.Long), needle) {
						filtered = append(filtered, e)
					}
				}
				entries = filtered
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(out, entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Path, e.Short})
			}
			PrintTable(out, []string{"path", "description"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Substring search across command names and descriptions")

	return cmd
}

// walkCommands collects the leaf commands below cmd.
func walkCommands(cmd *cobra.Command, parentPath string) []CommandEntry {
	var entries []CommandEntry
	for _, child := range cmd.Commands() {
		if child.Hidden || child.Name() == "help" || child.Name() == "completion" {
			continue
		}
		path := child.Name()
		if parentPath != "" {
			path = parentPath + " " + child.Name()
		}
		if child.HasSubCommands() {
			entries = append(entries, walkCommands(child, path)...)
			continue
		}

		var args string
		if fields := strings.Fields(child.Use); len(fields) > 1 {
			args = strings.Join(fields[1:], " ")
		}
		entries = append(entries, CommandEntry{
			Path:    path,
			Short:   child.Short,
			Long:    child.Long,
			Example: child.Example,
			Args:    args,
			Flags:   collectFlags(child),
		})
	}
	return entries
}

func collectFlags(cmd *cobra.Command) []FlagEntry {
	var flags []FlagEntry
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		flags = append(flags, FlagEntry{
			Name:    f.Name,
			Short:   f.Shorthand,
			Type:    f.Value.Type(),
			Default: f.DefValue,
			Usage:   f.Usage,
		})
	})
	return flags
}
