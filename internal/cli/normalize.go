package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/navshield/tracer/internal/normalize"
	"github.com/navshield/tracer/internal/store"
)

// NewNormalizeCommand runs the catalog normalizer pipeline against a
// finished test, persisting its signature.
func NewNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "normalize <test-id>",
		Short:         "Normalize a finalized atomic test into a signature",
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

			pipeline := normalize.New(st)
			sig, err := pipeline.Run(cmd.Context(), testID)
			if err != nil {
				if failErr := st.UpdateTest(cmd.Context(), testID, store.StatusFailed, "", err.Error()); failErr != nil {
					return WrapExitError(ExitCommandError, "normalization failed and could not record failure status", failErr)
				}
				return WrapExitError(ExitOperationFailure, "normalization failed", err)
			}
			// SaveNormalization already transitioned atomic_tests in the same
			// transaction that wrote the signature; nothing left to record here.
			return rootOpts.formatter(cmd).Success(sig)
		},
	}
}
