package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sdejongh/kopier/pkg/journal"
	"github.com/sdejongh/kopier/pkg/logging"
)

// NewUndoCommand creates the undo command
func NewUndoCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "undo JOURNAL",
		Short: "Revert a job from its journal",
		Long: `Revert what a copy, move or link job created, newest change first.
Copied entries are removed, moved entries are put back at their source.
Files that were overwritten by the job cannot be restored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUndo(cmd, args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func runUndo(cmd *cobra.Command, path string, yes bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyGlobalFlags(cfg)

	j, err := journal.Load(path)
	if err != nil {
		return err
	}
	if len(j.Entries) == 0 {
		fmt.Println("Nothing to undo")
		return nil
	}

	if !yes {
		if stdinPrompt() == nil {
			return fmt.Errorf("refusing to undo without a terminal, use --yes")
		}
		question := fmt.Sprintf("Undo %d change(s) of %s job %s?", len(j.Entries), j.Mode, j.JobID)
		if !confirm(os.Stdin, os.Stderr, question) {
			return nil
		}
	}

	logger, err := createLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	locations, err := journalLocations(j)
	if err != nil {
		return err
	}
	fs, err := buildFileSystem(ctx, cfg, nil, locations...)
	if err != nil {
		return err
	}
	defer fs.Close()

	report, undoErr := journal.Undo(ctx, fs, j, logger)

	if !cfg.Output.Quiet {
		color.New(color.FgGreen).Printf("Reverted %d change(s)\n", report.Reverted)
	}
	if report.Failed > 0 {
		errColor := color.New(color.FgRed)
		errColor.Printf("Failed to revert %d change(s):\n", report.Failed)
		for _, e := range report.Errors {
			errColor.Printf("  ✗ %s\n", e.Error)
		}
		return &ExitError{Code: 1}
	}
	if undoErr != nil {
		return undoErr
	}

	if err := os.Remove(path); err != nil {
		logger.Warn(ctx, "failed to remove journal", logging.Fields{"path": path, "error": err.Error()})
	}
	return nil
}

// journalLocations returns the locations touched by a journal so that the
// right backends get registered
func journalLocations(j *journal.Journal) ([]url.URL, error) {
	var out []url.URL
	for _, e := range j.Entries {
		for _, s := range []string{e.Source, e.Dest} {
			if s == "" {
				continue
			}
			u, err := url.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("invalid journal location %q: %w", s, err)
			}
			out = append(out, *u)
		}
	}
	return out, nil
}

// confirm asks a yes/no question, defaulting to no
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
