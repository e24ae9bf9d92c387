// Command incidentctl runs incident scans and window diagnoses against a
// configured snapshot source without starting the HTTP service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"incidentwatch/internal/config"
	"incidentwatch/internal/incidents"
	"incidentwatch/internal/sources"
)

type options struct {
	configPath string
	dataDir    string
	jsonOutput bool
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "incidentctl",
		Short:         "Detect and diagnose fleet anomaly incidents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults to $CONFIG_PATH)")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "CSV directory, overrides source.dir")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print JSON instead of text")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(newScanCmd(opts), newDiagnoseCmd(opts), newSummaryCmd(opts), newSealCmd())
	return root
}

func (o *options) load() (config.Config, error) {
	cfg := config.Defaults()
	path := o.configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if o.dataDir != "" {
		cfg.Source.Type = config.SourceCSV
		cfg.Source.Dir = o.dataDir
	}
	cfg.Runtime.LogLevel = o.logLevel
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// open loads the configured source once and returns a service over it.
func (o *options) open(ctx context.Context, stderr io.Writer) (config.Config, *incidents.Service, error) {
	cfg, err := o.load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.Runtime.Level()}))
	loader, err := sources.New(ctx, cfg, logger)
	if err != nil {
		return config.Config{}, nil, err
	}
	defer loader.Close()
	svc := incidents.NewService(nil, cfg.Settings(), logger)
	if _, err := sources.Refresh(ctx, loader, svc, logger); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, svc, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
