package cli

import (
	"fmt"
	"net/url"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/config"
	"github.com/sdejongh/kopier/pkg/logging"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/ratelimit"
)

// parseLocations splits SRC... DEST arguments into locations
func parseLocations(args []string) ([]url.URL, url.URL, error) {
	if len(args) < 2 {
		return nil, url.URL{}, fmt.Errorf("need at least one source and a destination")
	}

	sources := make([]url.URL, 0, len(args)-1)
	for _, arg := range args[:len(args)-1] {
		u, err := platform.ParseLocation(arg)
		if err != nil {
			return nil, url.URL{}, err
		}
		sources = append(sources, u)
	}

	dest, err := platform.ParseLocation(args[len(args)-1])
	if err != nil {
		return nil, url.URL{}, err
	}
	return sources, dest, nil
}

// validateLocations rejects requests that would copy a tree into itself
func validateLocations(mode models.JobMode, sources []url.URL, dest url.URL, as bool) error {
	if as && len(sources) != 1 {
		return fmt.Errorf("--as needs exactly one source, got %d", len(sources))
	}

	for _, src := range sources {
		if !platform.SameBackend(src, dest) {
			if mode == models.ModeLink {
				return fmt.Errorf("cannot link %s into %s: links must stay on one backend", src.String(), dest.String())
			}
			continue
		}
		if mode == models.ModeLink {
			continue
		}
		if as && platform.Equal(src, dest) {
			continue
		}
		// dest is the containing directory unless --as, so dest == src
		// would put src inside itself too
		if platform.HasPathPrefix(dest.Path, src.Path) {
			return fmt.Errorf("destination cannot be inside source: %s", src.String())
		}
	}
	return nil
}

// loadConfig loads configuration from file or returns default
func loadConfig() (*config.Config, error) {
	return config.Load(globalFlags.ConfigFile)
}

// applyGlobalFlags overrides config values with the global flags
func applyGlobalFlags(cfg *config.Config) {
	if globalFlags.LogFile != "" {
		cfg.Logging.Enabled = true
		cfg.Logging.File = globalFlags.LogFile
	}
	if globalFlags.LogFormat != "" {
		cfg.Logging.Format = globalFlags.LogFormat
	}
	if globalFlags.LogLevel != "" {
		cfg.Logging.Level = globalFlags.LogLevel
	}

	// Disable progress in quiet mode
	if globalFlags.Quiet {
		cfg.Output.Progress = false
		cfg.Output.Quiet = true
	}

	// Verbose logs debug messages, to stderr unless a file is set
	if globalFlags.Verbose {
		cfg.Logging.Enabled = true
		cfg.Logging.Level = "debug"
	}
}

// applyTransferFlags overrides config values with the job flags
func applyTransferFlags(cfg *config.Config, f *TransferFlags) {
	applyGlobalFlags(cfg)

	if f.Conflict != "" {
		cfg.Transfer.Conflict = models.ConflictPolicy(f.Conflict)
	}
	if f.Bandwidth != "" {
		cfg.Transfer.Bandwidth = f.Bandwidth
	}
	if f.Output != "" {
		cfg.Output.Format = f.Output
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.Listen = f.MetricsAddr
	}
	if f.DefaultPerms {
		cfg.Transfer.DefaultPermissions = true
	}
	if f.NoJournal {
		cfg.Journal.Enabled = false
	}
	if f.SkipSame != "" {
		cfg.Transfer.SkipIdentical = f.SkipSame
	}
}

// createLogger creates a logger based on configuration
func createLogger(cfg config.LoggingConfig) (logging.Logger, error) {
	if !cfg.Enabled {
		return logging.Nop, nil
	}

	format := logging.FormatText
	if cfg.Format == "json" {
		format = logging.FormatJSON
	}

	logger, err := logging.NewZapLogger(logging.Config{
		Path:       cfg.File,
		Format:     format,
		Level:      logging.ParseLevel(cfg.Level),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
	})
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// createLimiter builds the shared bandwidth limiter, nil when unlimited
func createLimiter(cfg *config.Config) (*ratelimit.Limiter, error) {
	rate, err := ratelimit.ParseRate(cfg.Transfer.Bandwidth)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewLimiter(rate), nil
}
