package cli

import (
	"github.com/spf13/cobra"
)

// GlobalFlags holds global flag values
type GlobalFlags struct {
	ConfigFile string
	Verbose    bool
	Quiet      bool

	// Logging flags
	LogFile   string
	LogFormat string
	LogLevel  string
}

var globalFlags GlobalFlags

// AddGlobalFlags adds global flags to the root command
func AddGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(
		&globalFlags.ConfigFile,
		"config",
		"",
		"config file (default is $HOME/.config/kopier/config.yaml)",
	)
	cmd.PersistentFlags().BoolVarP(
		&globalFlags.Verbose,
		"verbose",
		"v",
		false,
		"verbose output, logs debug messages",
	)
	cmd.PersistentFlags().BoolVarP(
		&globalFlags.Quiet,
		"quiet",
		"q",
		false,
		"suppress non-error output",
	)

	cmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "write logs to file (enables logging)")
	cmd.PersistentFlags().StringVar(&globalFlags.LogFormat, "log-format", "", "log format: text, json")
	cmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() *GlobalFlags {
	return &globalFlags
}

// TransferFlags holds the flags of the copy, move and link commands
type TransferFlags struct {
	As           bool
	Conflict     string
	Bandwidth    string
	Output       string
	MetricsAddr  string
	Journal      string
	NoJournal    bool
	DefaultPerms bool
	SkipSame     string
}

func addTransferFlags(cmd *cobra.Command, f *TransferFlags) {
	cmd.Flags().BoolVar(&f.As, "as", false, "treat DEST as the new name of the single source instead of a containing directory")
	cmd.Flags().StringVarP(&f.Conflict, "conflict", "c", "", "conflict policy: ask, skip, overwrite, rename, fail")
	cmd.Flags().StringVarP(&f.Bandwidth, "bandwidth", "b", "", "bandwidth limit (e.g., \"10M\", \"1G\")")
	cmd.Flags().StringVarP(&f.Output, "output", "o", "", "output format: human, json")
	cmd.Flags().StringVar(&f.MetricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g., \":9090\")")
	cmd.Flags().StringVar(&f.Journal, "journal", "", "write the undo journal to this file")
	cmd.Flags().BoolVar(&f.NoJournal, "no-journal", false, "do not write an undo journal")
	cmd.Flags().BoolVar(&f.DefaultPerms, "default-perms", false, "create entries with default permissions instead of the source ones")
	cmd.Flags().StringVar(&f.SkipSame, "skip-identical", "", "leave existing files holding the same content: size, timestamp, hash, binary")
}
