package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/keagan/eventcut/internal/apperr"
	"github.com/keagan/eventcut/internal/config"
	"github.com/keagan/eventcut/internal/ffmpeg"
	"github.com/keagan/eventcut/internal/logging"
	"github.com/keagan/eventcut/internal/pipeline"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile  string
	verbose  bool
	jsonLogs bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger := logging.WithComponent("cli")
		logger.Error().Err(err).Str("kind", apperr.KindOf(err).String()).Msg("command failed")
		stop()
		os.Exit(apperr.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:           "eventcut",
	Short:         "eventcut - cut the loud parts out of long recordings",
	Long:          "Detects audio events in a long recording, joins them into a montage and keeps every event as a reusable segment.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose, jsonLogs)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, "load config", err, "invalid configuration")
		}

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./eventcut.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log JSON lines instead of console output")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(recombineCmd)
	rootCmd.AddCommand(segmentsCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configCmd)
}

func openEngine(cfg *config.Config) (*ffmpeg.Executor, error) {
	engine, err := pipeline.OpenEngine(log.Logger, cfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "open engine", err, "ffmpeg is not available")
	}
	return engine, nil
}

// newPipeline opens the engine and builds a pipeline for one invocation.
func newPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	engine, err := openEngine(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.New(log.Logger, cfg, engine)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var probeCmd = &cobra.Command{
	Use:   "probe [media file]",
	Short: "Show media metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		pipe, err := newPipeline(cfg)
		if err != nil {
			return err
		}
		info, err := pipe.Probe(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), info)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the effective configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "eventcut.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return apperr.Validation("config init", "%s already exists", path)
		}
		if err := config.FromContext(cmd.Context()).Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
