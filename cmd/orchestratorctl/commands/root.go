// Package commands provides the CLI commands for orchestratorctl.
package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/internal/logging"
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
	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:     "orchestratorctl",
	Short:   "Control plane for supervised coding-agent orchestrations",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()

		logCfg := logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: os.Stderr,
			Pretty: printLogs,
		}
		if !printLogs && !logFile {
			logCfg.Level = logging.FatalLevel
		}
		logCfg.LogToFile = logFile
		logging.Init(logCfg)

		if serverURL == "" {
			if v := os.Getenv("FYP_SERVER_URL"); v != "" {
				serverURL = v
			} else {
				serverURL = "http://127.0.0.1:8080"
			}
		}
		if token == "" {
			token = os.Getenv("FYP_API_TOKEN")
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to a timestamped file in /tmp")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Control Surface base URL (default http://127.0.0.1:8080, or $FYP_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (default $FYP_API_TOKEN)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("orchestratorctl %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(orchestrationCmd)
	rootCmd.AddCommand(inboxCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCodeFor maps err to a process exit code: 0 success, 1 generic
// error, 2 bad request, 64 configuration error.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var de *ctlerr.Error
	if errors.As(err, &de) {
		switch de.Code {
		case ctlerr.CodeBadID, ctlerr.CodeBadPath, ctlerr.CodeBadTool, ctlerr.CodeBadMode,
			ctlerr.CodeBadSize, ctlerr.CodeMissingText, ctlerr.CodeMissingTask,
			ctlerr.CodeMissingWorkers, ctlerr.CodeInvalidCommandPayload, ctlerr.CodeUnknownCommand:
			return 2
		}
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return 64
	}
	return 1
}

// configError marks an error as a configuration problem for ExitCodeFor.
type configError struct{ reason string }

func (e *configError) Error() string { return e.reason }
