package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sdejongh/kopier/pkg/compare"
	"github.com/sdejongh/kopier/pkg/config"
	"github.com/sdejongh/kopier/pkg/copyjob"
	"github.com/sdejongh/kopier/pkg/journal"
	"github.com/sdejongh/kopier/pkg/logging"
	"github.com/sdejongh/kopier/pkg/metrics"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/output"
	"github.com/sdejongh/kopier/pkg/storage"
)

// ExitError carries the exit code of a job whose outcome was already
// reported to the user
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewCopyCommand creates the copy command
func NewCopyCommand() *cobra.Command {
	return newTransferCommand(models.ModeCopy,
		"Copy files and directories",
		`Copy one or more sources into the destination directory, or to the
destination itself with --as. Directories are copied recursively.`)
}

// NewMoveCommand creates the move command
func NewMoveCommand() *cobra.Command {
	return newTransferCommand(models.ModeMove,
		"Move files and directories",
		`Move one or more sources into the destination directory, or to the
destination itself with --as. Moves within one backend are done by renaming
when possible, otherwise sources are copied and then removed.`)
}

// NewLinkCommand creates the link command
func NewLinkCommand() *cobra.Command {
	return newTransferCommand(models.ModeLink,
		"Create symbolic links to files and directories",
		`Create in the destination directory a symbolic link pointing to each
source. Sources and destination must be on the same backend.`)
}

func newTransferCommand(mode models.JobMode, short, long string) *cobra.Command {
	flags := &TransferFlags{}

	cmd := &cobra.Command{
		Use:   string(mode) + " SRC... DEST",
		Short: short,
		Long:  long,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, mode, flags, args)
		},
	}
	addTransferFlags(cmd, flags)

	return cmd
}

func runTransfer(cmd *cobra.Command, mode models.JobMode, flags *TransferFlags, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with command-line flags
	applyTransferFlags(cfg, flags)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	sources, dest, err := parseLocations(args)
	if err != nil {
		return err
	}
	if err := validateLocations(mode, sources, dest, flags.As); err != nil {
		return err
	}

	logger, err := createLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	limiter, err := createLimiter(cfg)
	if err != nil {
		return err
	}

	locations := append(append([]url.URL(nil), sources...), dest)
	fs, err := buildFileSystem(ctx, cfg, limiter, locations...)
	if err != nil {
		return err
	}
	defer fs.Close()

	formatter, err := output.New(cfg.Output.Format, os.Stdout, output.Options{
		Progress: cfg.Output.Progress,
		Quiet:    cfg.Output.Quiet,
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen, logger)
	}

	spec := models.JobSpec{
		ID:        uuid.NewString(),
		Sources:   sources,
		Dest:      dest,
		Mode:      mode,
		As:        flags.As,
		Policy:    cfg.Transfer.Conflict,
		CreatedAt: time.Now(),
	}

	var prompt *PromptResolver
	if cfg.Transfer.Conflict == models.PolicyAsk {
		prompt = stdinPrompt()
	}

	opts, err := jobOptions(cfg, logger, fs)
	if err != nil {
		return err
	}
	opts.Resolver = newResolver(cfg.Transfer.Conflict, prompt)
	opts.Progress = output.Tee{formatter, metrics.NewSink()}

	var rec *journal.Recorder
	if cfg.Journal.Enabled {
		path := flags.Journal
		if path == "" {
			path = journal.PathFor(cfg.Journal.Dir, spec.ID)
		}
		rec = journal.NewRecorder(path, spec.ID, mode)
		opts.Events = rec
	}

	job, err := copyjob.New(spec, fs, opts)
	if err != nil {
		formatter.Error(err)
		return &ExitError{Code: models.StatusFailed.ExitCode()}
	}

	metrics.JobStarted()
	report, runErr := job.Run(ctx)
	if report == nil {
		return runErr
	}
	metrics.JobFinished(report)

	if rec != nil {
		closeJournal(rec, cfg.Output.Quiet, logger)
	}

	if err := formatter.Complete(report); err != nil {
		return err
	}
	if code := report.Status.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// jobOptions returns the job options shared by every command
func jobOptions(cfg *config.Config, logger logging.Logger, fs *storage.Mux) (copyjob.Options, error) {
	opts := copyjob.Options{
		ReportInterval:     cfg.Transfer.ReportInterval,
		Logger:             logger,
		ResolveLocalURLs:   cfg.Transfer.ResolveLocalURLs,
		DefaultPermissions: cfg.Transfer.DefaultPermissions,
	}
	if cfg.Transfer.SkipIdentical != "" {
		c, err := compare.New(cfg.Transfer.SkipIdentical, fs, cfg.Transfer.BufferSize)
		if err != nil {
			return opts, err
		}
		opts.SameContent = compare.SameContent(c)
	}
	return opts, nil
}

// closeJournal saves the journal and tells where it is. An empty journal
// is removed since there is nothing to undo.
func closeJournal(rec *journal.Recorder, quiet bool, logger logging.Logger) {
	ctx := context.Background()
	if err := rec.Close(); err != nil {
		logger.Error(ctx, "failed to save journal", err, logging.Fields{"path": rec.Path()})
		fmt.Fprintf(os.Stderr, "Warning: undo journal is incomplete: %v\n", err)
		return
	}
	if len(rec.Entries()) == 0 {
		os.Remove(rec.Path())
		return
	}
	logger.Info(ctx, "journal saved", logging.Fields{"path": rec.Path()})
	if !quiet {
		fmt.Fprintf(os.Stderr, "Undo journal: %s\n", rec.Path())
	}
}

func serveMetrics(ctx context.Context, addr string, logger logging.Logger) {
	logger.Info(ctx, "serving metrics", logging.Fields{"addr": addr})
	if err := metrics.Serve(ctx, addr); err != nil {
		logger.Error(ctx, "metrics server failed", err, logging.Fields{"addr": addr})
	}
}
