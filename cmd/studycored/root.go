package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"studycore/internal/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool

	addr        string
	modelsDir   string
	dbPath      string
	corsOrigins string
	threads     int
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&rootOptions{}) }

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "studycored",
		Short:         "Offline study assistant core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("STUDYCORE_CONFIG")
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "Config file (.yaml, .json or .toml); defaults to STUDYCORE_CONFIG")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Write JSON logs instead of console output")
	root.PersistentFlags().StringVar(&opts.modelsDir, "models-dir", "", "Directory holding model files")
	root.PersistentFlags().IntVar(&opts.threads, "threads", 0, "Inference threads (0 picks from CPU count)")

	root.AddCommand(newServeCmd(opts), newChunkCmd(opts), newModelsCmd(opts))
	return root
}

// loadConfig reads the config file, applies flags the user set explicitly,
// then fills defaults.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("log-json") {
		cfg.LogJSON = o.logJSON
	}
	if flags.Changed("models-dir") {
		cfg.ModelsDir = o.modelsDir
	}
	if flags.Changed("threads") {
		cfg.Threads = o.threads
	}
	if f := flags.Lookup("addr"); f != nil && (f.Changed || cfg.Addr == "") {
		cfg.Addr = o.addr
	}
	if flags.Changed("db") {
		cfg.DBPath = o.dbPath
	}
	if flags.Changed("cors-origins") {
		cfg.CORSOrigins = splitCSV(o.corsOrigins)
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

// newLogger builds the process logger from config.
func newLogger(w io.Writer, level string, asJSON bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if !asJSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// splitCSV splits a comma separated list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
