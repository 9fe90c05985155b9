package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewWhitelistCommand manages auto-generated whitelist entries attached to
// signatures: listing them by test and promoting one to approved.
func NewWhitelistCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage benign-telemetry whitelist entries on a signature",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list <test-id>",
		Short:         "List whitelist entries suggested for a test's signature",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			testID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid test id", err)
			}

			st, _, closeFn, err := openStoreAndSessions(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer closeFn()

			sig, ok, err := st.GetSignatureByTest(cmd.Context(), testID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load signature", err)
			}
			if !ok {
				return WrapExitError(ExitCommandError, "no signature for test", nil)
			}
			return rootOpts.formatter(cmd).Success(sig.Whitelist)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "promote <entry-id>",
		Short:         "Approve an auto-generated whitelist entry",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid whitelist entry id", err)
			}

			st, _, closeFn, err := openStoreAndSessions(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer closeFn()

			if err := st.PromoteWhitelistEntry(cmd.Context(), entryID); err != nil {
				return WrapExitError(ExitCommandError, "failed to promote whitelist entry", err)
			}
			return rootOpts.formatter(cmd).Success(map[string]any{"promoted": entryID})
		},
	})

	return cmd
}
