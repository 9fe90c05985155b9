package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/navshield/tracer/internal/session"
	"github.com/navshield/tracer/internal/store"
)

// NewCatalogCommand groups the atomic-test catalog subcommands: start,
// finish, list, export and delete.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage catalog sessions and their atomic tests",
	}

	cmd.AddCommand(newCatalogStartCommand(rootOpts))
	cmd.AddCommand(newCatalogFinishCommand(rootOpts))
	cmd.AddCommand(newCatalogListCommand(rootOpts))
	cmd.AddCommand(newCatalogExportCommand(rootOpts))
	cmd.AddCommand(newCatalogDeleteCommand(rootOpts))

	return cmd
}

func openStoreAndSessions(opts *RootOptions) (*store.Store, *session.Manager, func(), error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return st, session.New(st), func() { _ = st.Close() }, nil
}

type catalogStartOptions struct {
	*RootOptions
	Target      string
	Technique   string
	Name        string
	Description string
}

func newCatalogStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &catalogStartOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Begin a catalog session and its atomic test entry",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, sessions, closeFn, err := openStoreAndSessions(opts.RootOptions)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer closeFn()

			sessionID, err := sessions.Begin(cmd.Context(), store.NewSessionInfo{
				TargetProcess: opts.Target,
				Kind:          store.SessionCatalog,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to begin catalog session", err)
			}

			testID, err := st.StartTest(cmd.Context(), opts.Technique, opts.Name, opts.Description, sessionID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to start atomic test", err)
			}

			return opts.formatter(cmd).Success(map[string]any{
				"sessionId": sessionID,
				"testId":    testID,
			})
		},
	}

	cmd.Flags().StringVar(&opts.Target, "target", "", "target executable basename (required)")
	cmd.Flags().StringVar(&opts.Technique, "technique", "", "catalog technique id, e.g. T1059.001 (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name for the test")
	cmd.Flags().StringVar(&opts.Description, "description", "", "free-form description")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("technique")

	return cmd
}

func newCatalogFinishCommand(rootOpts *RootOptions) *cobra.Command {
	var summary string

	cmd := &cobra.Command{
		Use:           "finish <test-id>",
		Short:         "Finalize an atomic test, recording its event count",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			testID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid test id", err)
			}

			st, sessions, closeFn, err := openStoreAndSessions(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer closeFn()

			test, err := st.GetTest(cmd.Context(), testID)
			if err != nil {
				return WrapExitError(ExitCommandError, "test not found", err)
			}

			total, err := st.CountEvents(cmd.Context(), test.SessionID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to count session events", err)
			}

			if err := st.FinishTest(cmd.Context(), testID, total); err != nil {
				return WrapExitError(ExitCommandError, "failed to finalize test", err)
			}
			if err := sessions.Complete(cmd.Context(), test.SessionID, summary); err != nil {
				return WrapExitError(ExitCommandError, "failed to complete catalog session", err)
			}

			return rootOpts.formatter(cmd).Success(map[string]any{
				"testId":      testID,
				"totalEvents": total,
			})
		},
	}

	cmd.Flags().StringVar(&summary, "summary", "", "note appended to the session on completion")
	return cmd
}

func newCatalogListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List atomic tests",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, closeFn, err := openStoreAndSessions(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer closeFn()

			tests, err := st.ListTests(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list tests", err)
			}
			return rootOpts.formatter(cmd).Success(tests)
		},
	}
}

func newCatalogExportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "export <test-id>",
		Short:         "Export every event recorded for a test's session",
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

			events, err := st.ExportEvents(cmd.Context(), testID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to export events", err)
			}
			return rootOpts.formatter(cmd).Success(events)
		},
	}
}

func newCatalogDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <test-id>",
		Short:         "Delete an atomic test and cascade its session, signature and events",
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

			if err := st.DeleteTest(cmd.Context(), testID); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete test", err)
			}
			return rootOpts.formatter(cmd).Success(map[string]any{"deleted": testID})
		},
	}
}
