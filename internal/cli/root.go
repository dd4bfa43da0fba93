// Package cli is the collector's command surface: one long-running root
// command plus a version subcommand.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/resolvix/collector/internal/config"
	"github.com/resolvix/collector/internal/daemon"
	"github.com/resolvix/collector/internal/suppress"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitConfig  = 1
	ExitRuntime = 2
)

var (
	flagLogFile      string
	flagDaemonLog    string
	flagAPIURL       string
	flagTelemetryURL string
	flagTelemetryJWT string
	flagDBHost       string
	flagDBName       string
	flagDBUser       string
	flagDBPassword   string
	flagDBPort       int
	flagConfigPath   string
	flagControlPort  int
	flagTuningPath   string
	flagVerbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "resolvix-collector",
	Short: "Node-resident log and telemetry collector",
	Long: "Watches local log files for error events, filters them through " +
		"suppression rules, raises tickets, and ships host telemetry to the " +
		"backend with durable local queueing.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCollector,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagLogFile, "log-file", "", "Initial log file to monitor")
	f.StringVar(&flagDaemonLog, "daemon-log", "", "Daemon's own log file; written to and auto-monitored")
	f.StringVar(&flagAPIURL, "api-url", "", "Ticket bus submission URL")
	f.StringVar(&flagTelemetryURL, "telemetry-backend-url", "", "Telemetry ingestion base URL (required)")
	f.StringVar(&flagTelemetryJWT, "telemetry-jwt-token", "", "Bearer token for telemetry ingestion")
	f.StringVar(&flagDBHost, "db-host", "", "Rule store host")
	f.StringVar(&flagDBName, "db-name", "", "Rule store database name")
	f.StringVar(&flagDBUser, "db-user", "", "Rule store user")
	f.StringVar(&flagDBPassword, "db-password", "", "Rule store password")
	f.IntVar(&flagDBPort, "db-port", 5432, "Rule store port")
	f.StringVar(&flagConfigPath, "config-path", config.DefaultPath, "Persisted monitored-set config path")
	f.IntVar(&flagControlPort, "control-port", 8754, "Control plane HTTP port")
	f.StringVar(&flagTuningPath, "tuning", "", "Optional YAML tuning overrides")
	f.BoolVar(&flagVerbose, "verbose", false, "Debug-level logging")
}

// Execute runs the root command and maps errors to exit codes: 1 for
// startup misconfiguration, 2 for an unrecoverable runtime fault.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "resolvix-collector: %v\n", err)
		var rt *runtimeError
		if errors.As(err, &rt) {
			os.Exit(ExitRuntime)
		}
		os.Exit(ExitConfig)
	}
}

// runtimeError marks faults that happened after a clean startup.
type runtimeError struct{ err error }

func (e *runtimeError) Error() string { return e.err.Error() }
func (e *runtimeError) Unwrap() error { return e.err }

func runCollector(cmd *cobra.Command, args []string) error {
	log, err := buildLogger()
	if err != nil {
		return err
	}

	tuning, err := config.LoadTuning(flagTuningPath)
	if err != nil {
		return err
	}

	db := suppress.DBConfig{
		Host:     flagDBHost,
		Port:     flagDBPort,
		Name:     flagDBName,
		User:     flagDBUser,
		Password: flagDBPassword,
	}
	if flagDBHost == "" && flagDBName == "" && flagDBUser == "" {
		db = suppress.DBConfig{}
	}

	d, err := daemon.New(daemon.Config{
		LogFile:             flagLogFile,
		DaemonLogPath:       flagDaemonLog,
		APIURL:              flagAPIURL,
		TelemetryBackendURL: flagTelemetryURL,
		TelemetryToken:      flagTelemetryJWT,
		DB:                  db,
		ConfigPath:          flagConfigPath,
		ControlPort:         flagControlPort,
		Tuning:              tuning,
		Log:                 log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		return &runtimeError{err: err}
	}
	log.Info().Msg("clean shutdown")
	return nil
}

// buildLogger writes human-readable logs on a TTY, JSON otherwise, and
// tees into the daemon log file when one is configured.
func buildLogger() (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}

	var out io.Writer = os.Stderr
	if isTerminal(os.Stderr) {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if flagDaemonLog != "" {
		f, err := os.OpenFile(flagDaemonLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open daemon log: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
