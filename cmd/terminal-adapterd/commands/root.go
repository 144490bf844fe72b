// Package commands provides the CLI commands for the terminal adapter daemon.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talos-sh/terminal-adapter/internal/logging"
)

var (
	// Version is set at build time.
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	printLogs bool
	logLevel  string
	logFile   bool
)

var rootCmd = &cobra.Command{
	Use:   "terminal-adapterd",
	Short: "Policy-enforcing, audit-logging mediator between an agent and a host shell",
	Long: `terminal-adapterd classifies and mediates shell commands submitted by an
automated agent, enforces layered policy, executes permitted commands in
a sandboxed child process, and records every action into a tamper-evident
Merkle log anchored to an external audit sink.

Run 'terminal-adapterd serve' to start the dispatcher.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			Pretty:    printLogs,
			LogToFile: logFile,
		}
		if !printLogs && !logFile {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to a timestamped file")

	rootCmd.SetVersionTemplate(fmt.Sprintf("terminal-adapterd %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
