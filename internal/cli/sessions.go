package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewSessionsCommand groups session introspection subcommands: list and
// stats. Sessions are begun and completed implicitly by monitor/catalog.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect monitor and catalog sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List every session, most recently started first",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sessions, closeFn, err := openStoreAndSessions(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer closeFn()

			list, err := sessions.List(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list sessions", err)
			}
			return rootOpts.formatter(cmd).Success(list)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "stats <session-id>",
		Short:         "Show event counts and lifecycle state for a session",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid session id", err)
			}

			_, sessions, closeFn, err := openStoreAndSessions(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer closeFn()

			stats, err := sessions.Stats(cmd.Context(), sessionID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to compute session stats", err)
			}
			return rootOpts.formatter(cmd).Success(stats)
		},
	})

	return cmd
}
