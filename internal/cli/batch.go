package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sdejongh/kopier/pkg/copyjob"
	"github.com/sdejongh/kopier/pkg/journal"
	"github.com/sdejongh/kopier/pkg/logging"
	"github.com/sdejongh/kopier/pkg/metrics"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/output"
)

// BatchFile lists independent jobs to run together
type BatchFile struct {
	Jobs []BatchJob `yaml:"jobs"`
}

// BatchJob is one entry of a batch file. Conflict defaults to the
// configured policy.
type BatchJob struct {
	Mode     models.JobMode `yaml:"mode"`
	Sources  []string       `yaml:"sources"`
	Dest     string         `yaml:"dest"`
	As       bool           `yaml:"as"`
	Conflict string         `yaml:"conflict"`
}

// loadBatchFile reads and checks a batch file
func loadBatchFile(path string) (*BatchFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	var batch BatchFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&batch); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}
	if len(batch.Jobs) == 0 {
		return nil, fmt.Errorf("batch file %s has no jobs", path)
	}

	for i, j := range batch.Jobs {
		if _, err := models.ParseJobMode(string(j.Mode)); err != nil {
			return nil, fmt.Errorf("job %d: %w", i+1, err)
		}
		if j.Conflict != "" {
			if _, err := models.ParseConflictPolicy(j.Conflict); err != nil {
				return nil, fmt.Errorf("job %d: %w", i+1, err)
			}
		}
		if len(j.Sources) == 0 || j.Dest == "" {
			return nil, fmt.Errorf("job %d: sources and dest are required", i+1)
		}
	}
	return &batch, nil
}

// locations parses the sources and destination of a batch job
func (j BatchJob) locations() ([]url.URL, url.URL, error) {
	return parseLocations(append(append([]string(nil), j.Sources...), j.Dest))
}

// NewBatchCommand creates the batch command
func NewBatchCommand() *cobra.Command {
	var parallel int
	var format string

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run the jobs listed in a YAML file",
		Long: `Run several independent copy, move or link jobs described in a YAML file:

  jobs:
    - mode: copy
      sources: [photos, videos]
      dest: /mnt/backup
    - mode: move
      sources: [inbox/report.pdf]
      dest: archive/2024-report.pdf
      as: true
      conflict: rename

Jobs run concurrently, up to transfer.max_concurrent_jobs at once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args[0], parallel, format)
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "number of jobs run at once (default from config)")
	cmd.Flags().StringVarP(&format, "output", "o", "", "output format: human, json")

	return cmd
}

func runBatch(cmd *cobra.Command, path string, parallel int, format string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyGlobalFlags(cfg)
	if format != "" {
		cfg.Output.Format = format
	}
	if parallel > 0 {
		cfg.Transfer.MaxConcurrentJobs = parallel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	batch, err := loadBatchFile(path)
	if err != nil {
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

	type parsed struct {
		sources []url.URL
		dest    url.URL
	}
	parsedJobs := make([]parsed, len(batch.Jobs))
	var all []url.URL
	for i, bj := range batch.Jobs {
		sources, dest, err := bj.locations()
		if err != nil {
			return fmt.Errorf("job %d: %w", i+1, err)
		}
		if err := validateLocations(bj.Mode, sources, dest, bj.As); err != nil {
			return fmt.Errorf("job %d: %w", i+1, err)
		}
		parsedJobs[i] = parsed{sources, dest}
		all = append(all, sources...)
		all = append(all, dest)
	}

	// The limiter is shared so that the bandwidth cap holds for the batch
	fs, err := buildFileSystem(ctx, cfg, limiter, all...)
	if err != nil {
		return err
	}
	defer fs.Close()

	// Progress lines of concurrent jobs would interleave, so only the
	// final reports are printed
	formatter, err := output.New(cfg.Output.Format, os.Stdout, output.Options{Quiet: cfg.Output.Quiet})
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen, logger)
	}

	var prompt *PromptResolver
	jobs := make([]*copyjob.Job, len(batch.Jobs))
	recorders := make([]*journal.Recorder, len(batch.Jobs))
	for i, bj := range batch.Jobs {
		policy := cfg.Transfer.Conflict
		if bj.Conflict != "" {
			policy = models.ConflictPolicy(bj.Conflict)
		}
		if policy == models.PolicyAsk && prompt == nil {
			prompt = stdinPrompt()
		}

		spec := models.JobSpec{
			ID:        uuid.NewString(),
			Sources:   parsedJobs[i].sources,
			Dest:      parsedJobs[i].dest,
			Mode:      bj.Mode,
			As:        bj.As,
			Policy:    policy,
			CreatedAt: time.Now(),
		}

		opts, err := jobOptions(cfg, logger, fs)
		if err != nil {
			return err
		}
		opts.Resolver = newResolver(policy, prompt)
		opts.Progress = metrics.NewSink()
		if cfg.Journal.Enabled {
			recorders[i] = journal.NewRecorder(journal.PathFor(cfg.Journal.Dir, spec.ID), spec.ID, bj.Mode)
			opts.Events = recorders[i]
		}

		job, err := copyjob.New(spec, fs, opts)
		if err != nil {
			return fmt.Errorf("job %d: %w", i+1, err)
		}
		jobs[i] = job
	}

	logger.Info(ctx, "batch started", logging.Fields{
		"file": path,
		"jobs": len(jobs),
	})
	for range jobs {
		metrics.JobStarted()
	}
	reports, _ := copyjob.NewScheduler(cfg.Transfer.MaxConcurrentJobs).Run(ctx, jobs)

	exitCode := 0
	for i, report := range reports {
		if recorders[i] != nil {
			closeJournal(recorders[i], cfg.Output.Quiet, logger)
		}
		if report == nil {
			continue
		}
		metrics.JobFinished(report)
		if err := formatter.Complete(report); err != nil {
			return err
		}
		if code := report.Status.ExitCode(); code > exitCode {
			exitCode = code
		}
	}

	if exitCode != 0 {
		return &ExitError{Code: exitCode}
	}
	return nil
}
