package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/navshield/tracer/internal/classify"
	"github.com/navshield/tracer/internal/correlate"
	"github.com/navshield/tracer/internal/lineage"
	"github.com/navshield/tracer/internal/runtime"
	"github.com/navshield/tracer/internal/sensor"
	"github.com/navshield/tracer/internal/session"
	"github.com/navshield/tracer/internal/store"
)

// MonitorOptions holds flags for the monitor command.
type MonitorOptions struct {
	*RootOptions
	Target    string
	Host      string
	User      string
	OSVersion string
	RootPID   int
}

// NewMonitorCommand creates the monitor command: it opens a monitor
// session against --target, reads sensor records from stdin, and runs the
// lineage tracker and correlation loop until interrupted.
func NewMonitorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MonitorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start a live monitor session against a target executable",
		Long: `monitor opens a monitor session for --target, reads newline-delimited
sensor records from stdin, filters them through the process-lineage tracker,
and periodically scores the session against the catalog's finalized
signatures, escalating session severity and emitting alerts on matches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Target, "target", "", "target executable basename (required)")
	cmd.Flags().StringVar(&opts.Host, "host", "", "host name recorded on the session")
	cmd.Flags().StringVar(&opts.User, "user", "", "user name recorded on the session")
	cmd.Flags().StringVar(&opts.OSVersion, "os-version", "", "OS version recorded on the session")
	cmd.Flags().IntVar(&opts.RootPID, "root-pid", 0, "root pid recorded on the session")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func runMonitor(opts *MonitorOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel})
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler).With("run", uuid.NewString())

	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	sessions := session.New(st)
	sessionID, err := sessions.Begin(cmd.Context(), store.NewSessionInfo{
		TargetProcess: opts.Target,
		RootPID:       opts.RootPID,
		Host:          opts.Host,
		User:          opts.User,
		OSVersion:     opts.OSVersion,
		Kind:          store.SessionMonitor,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to begin monitor session", err)
	}
	logger.Info("monitor session opened", "session", sessionID, "target", opts.Target)

	tracker := lineage.New(st, sessionID, opts.Target, logger)
	if err := tracker.Initialize(cmd.Context()); err != nil {
		logger.Warn("lineage initialization degraded", "error", err)
	}

	engine := correlate.New(st, cfg)
	classifier := classify.New(st, sessionID, "")

	if !cfg.CorrelationEnabled {
		logger.Info("correlation task disabled by configuration")
	}
	cadence := cfg.CorrelationCadence
	if !cfg.CorrelationEnabled {
		cadence = 0
	}

	supervisor := runtime.NewMonitorSupervisor(st, sessionID, tracker, engine, classifier, tracker, cadence, logger)
	source := sensor.NewJSONLineSource(cmd.InOrStdin(), logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := supervisor.Run(ctx, source)

	summary := fmt.Sprintf("session %d tracked %d processes", sessionID, tracker.Statistics().TotalTracked)
	if completeErr := sessions.Complete(context.Background(), sessionID, summary); completeErr != nil {
		logger.Error("failed to complete session", "error", completeErr)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return WrapExitError(ExitOperationFailure, "monitor session ended with an error", runErr)
	}

	formatter := opts.formatter(cmd)
	return formatter.Success(map[string]any{
		"sessionId": sessionID,
		"stats":     tracker.Statistics(),
	})
}
