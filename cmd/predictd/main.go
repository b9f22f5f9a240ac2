package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "predictd",
		Short:         "Serving daemon for heavyweight predictors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", envOr("PREDICTD_CONFIG", ""), "config file (.toml/.yaml/.json)")
	root.PersistentFlags().String("log-level", envOr("PREDICTD_LOG_LEVEL", "info"), "log level: debug|info|warn|error")
	root.PersistentFlags().Bool("log-json", false, "log JSON instead of console output")
	root.AddCommand(newServeCmd(), newWorkerCmd())
	return root
}

func newLogger(cmd *cobra.Command) zerolog.Logger {
	levelStr, _ := cmd.Flags().GetString("log-level")
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	jsonOut, _ := cmd.Flags().GetBool("log-json")
	if jsonOut {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma-separated flag value, trimming whitespace and
// dropping empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
