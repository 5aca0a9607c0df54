package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facetrack/internal/logging"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the track and detect commands
type Options struct {
	Device         string
	InputPath      string
	InputFormat    string
	FrameRate      int
	ModelPath      string
	RuntimePath    string
	MaxFaces       int
	RefreshRate    float64
	DrawPath       string
	JSON           bool
	Loop           bool
	MaxFailures    int
	WorkerTimeout  string
	StartupTimeout string
}

var (
	// Log is the logger shared by subcommands, set up in PersistentPreRunE
	Log *logrus.Logger

	logLevel string
	logFile  string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facetrack",
	Short:   "Real-time face landmark tracking",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine, flags and the real environment still apply
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		var err error
		Log, err = logging.New(logging.Options{
			Level:  logLevel,
			File:   logFile,
			Caller: logLevel == "debug" || logLevel == "trace",
		})
		if err != nil {
			return err
		}
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envOr returns the environment value for key, or def when unset.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated by size")
}
