package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/navshield/tracer/internal/config"
)

// RootOptions holds global flags shared by every subcommand.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigFile string
	DBPath     string

	overrides config.Config
	overrideSet config.OverrideSet
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tracer CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tracer",
		Short: "Endpoint telemetry ingestion and adversary-technique correlation",
		Long: `tracer ingests host sensor telemetry into monitor and catalog sessions,
normalizes finished catalog runs into adversary-technique signatures, and
scores live monitor sessions against the resulting catalog in real time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to the SQLite database (default Logs/tracer.db)")

	cmd.AddCommand(NewMonitorCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewNormalizeCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewAlertsCommand(opts))
	cmd.AddCommand(NewWhitelistCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig layers the root's --config/--db flags over env vars and
// compiled-in defaults, the same precedence order config.Load documents.
func (o *RootOptions) loadConfig() (config.Config, error) {
	o.overrideSet.DBPath = o.DBPath != ""
	o.overrides.DBPath = o.DBPath
	return config.Load(o.ConfigFile, o.overrides, o.overrideSet)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
