package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	eucaHome   string
	verbose    bool
	quiet      bool
	jsonOutput bool

	// Mode flags.
	backupMode  bool
	restoreMode bool
	forReal     bool
	restoreFile string
)

var rootCmd = &cobra.Command{
	Use:   "clc-backup",
	Short: "Back up and restore the Eucalyptus cloud controller database",
	Long: `clc-backup backs up and restores the cloud controller's PostgreSQL
database and key material.

Backup (--backup) writes into <backup dir>/<YYYY-MM-DD>/:
  - a full pg_dumpall of the cluster
  - a gzip-compressed globals dump (roles, tablespaces)
  - one custom-format pg_dump per database
  - an archive of the key directory and a manifest

Restore (--restore --file <dump>) rebuilds the database from a full dump.
It is a dry run unless --forreal is given. The cloud service must be stopped.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE:          runMain,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&eucaHome, "eucahome", "/", "Eucalyptus installation root")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.Flags().BoolVar(&backupMode, "backup", false, "back up the database and keys")
	rootCmd.Flags().BoolVar(&restoreMode, "restore", false, "restore the database from a full dump")
	rootCmd.Flags().BoolVar(&forReal, "forreal", false, "commit the restore, otherwise only log what would happen")
	rootCmd.Flags().StringVarP(&restoreFile, "file", "f", "", "full dump file to restore from")

	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
