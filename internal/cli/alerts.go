package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewAlertsCommand lists and counts alert history.
func NewAlertsCommand(rootOpts *RootOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect severity-escalation alert history",
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List alerts, most recent first",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, closeFn, err := openStoreAndSessions(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer closeFn()

			alerts, err := st.ListAlerts(cmd.Context(), limit, offset)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list alerts", err)
			}
			return rootOpts.formatter(cmd).Success(alerts)
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum alerts to return (0 = no limit)")
	listCmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	cmd.AddCommand(listCmd)

	countCmd := &cobra.Command{
		Use:           "count <session-id>",
		Short:         "Count alerts for a session",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid session id", err)
			}

			st, _, closeFn, err := openStoreAndSessions(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer closeFn()

			count, err := st.CountAlerts(cmd.Context(), sessionID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to count alerts", err)
			}
			return rootOpts.formatter(cmd).Success(map[string]any{"sessionId": sessionID, "count": count})
		},
	}
	cmd.AddCommand(countCmd)

	return cmd
}
