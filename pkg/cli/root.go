package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dune-client/internal/config"
	"dune-client/pkg/dune"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = PrintJSON(stdout, errorObject(err))
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// errorObject is the JSON error envelope printed with --output json.
func errorObject(err error) map[string]interface{} {
	errObj := map[string]interface{}{
		"error": err.Error(),
		"kind":  dune.KindOf(err).String(),
	}
	var apiErr *dune.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		errObj["http_status"] = apiErr.StatusCode
	}
	var failed *dune.ExecutionFailedError
	if errors.As(err, &failed) {
		errObj["execution_id"] = failed.ExecutionID
	}
	var timeout *dune.TimeoutError
	if errors.As(err, &timeout) {
		errObj["execution_id"] = timeout.ExecutionID
	}
	return errObj
}

// app holds the resolved global settings shared by all subcommands.
type app struct {
	host    string
	apiKey  string
	output  string
	profile string
	quiet   bool
	verbose bool

	env    *config.Config
	client *dune.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "dune",
		Short:         "Dune query execution CLI",
		Long:          "Submit queries to the Dune API, track their execution and fetch results.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Config file is optional
			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = &UserConfig{
					CurrentProfile: "default",
					Profiles:       map[string]Profile{},
				}
			}
			p := cfg.ActiveProfile(a.profile)

			// Apply precedence: flag > env > profile > default. Tracking
			// settings follow the same order in trackingFlags.trackerConfig.
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("DUNE_API_URL"); v != "" {
					a.host = v
				} else if p.Host != "" {
					a.host = p.Host
				}
			}
			if !cmd.Flags().Changed("api-key") {
				if v := os.Getenv("DUNE_API_KEY"); v != "" {
					a.apiKey = v
				} else if p.APIKey != "" {
					a.apiKey = p.APIKey
				}
			}
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("DUNE_OUTPUT"); v != "" {
					a.output = v
				} else if p.Output != "" {
					a.output = p.Output
				}
			}

			if err := validateOutputFormat(a.output); err != nil {
				return err
			}
			if err := validateHostURL(a.host); err != nil {
				return err
			}

			a.env, err = config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := p.applyTracking(a.env); err != nil {
				return err
			}
			a.client = a.newClient(cmd.ErrOrStderr())
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.host, "host", config.DefaultBaseURL, "API base URL")
	rootCmd.PersistentFlags().StringVar(&a.apiKey, "api-key", "", "Dune API key")
	rootCmd.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format (table, json, csv)")
	rootCmd.PersistentFlags().StringVarP(&a.profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Only output execution identifiers")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log HTTP requests and status polls to stderr")

	rootCmd.AddCommand(newExecuteCmd(a))
	rootCmd.AddCommand(newPipelineCmd(a))
	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(newWaitCmd(a))
	rootCmd.AddCommand(newCancelCmd(a))
	rootCmd.AddCommand(newResultsCmd(a))
	rootCmd.AddCommand(newLatestCmd(a))

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newCompletionCmd())
	rootCmd.AddCommand(newCommandsCmd())

	return rootCmd
}

func (a *app) newClient(stderr io.Writer) *dune.Client {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opts := []dune.Option{
		dune.WithBaseURL(strings.TrimRight(a.host, "/")),
		dune.WithUserAgent("dune-cli/" + version),
		dune.WithLogger(logger),
		dune.WithRequestTimeout(a.env.RequestTimeout),
	}
	if a.env.RateLimitRPS > 0 {
		opts = append(opts, dune.WithRateLimit(a.env.RateLimitRPS, a.env.RateLimitBurst))
	}
	return dune.NewClient(a.apiKey, opts...)
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		// Completion needs no API access.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
