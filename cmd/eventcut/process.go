package main

import (
	"sync"

	"github.com/keagan/eventcut/internal/config"
	"github.com/keagan/eventcut/internal/detect"
	"github.com/keagan/eventcut/internal/pipeline"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// settingsFlags overlays detection flags on the configured defaults.
// Only flags the user set are applied.
type settingsFlags struct {
	policy           string
	sensitivity      float64
	mergeThreshold   float64
	thresholdPercent float64
	padding          float64
	minDuration      float64
}

func (f *settingsFlags) bind(cmd *cobra.Command) {
	d := config.Default().Detect
	fl := cmd.Flags()
	fl.StringVar(&f.policy, "policy", d.Policy, "detection policy: rms_ratio or noise_gate")
	fl.Float64Var(&f.sensitivity, "sensitivity", d.Sensitivity, "normalised energy threshold (rms_ratio)")
	fl.Float64Var(&f.mergeThreshold, "merge-threshold", d.MergeThreshold, "join segments closer than this many seconds (rms_ratio)")
	fl.Float64Var(&f.thresholdPercent, "threshold-percent", d.ThresholdPercent, "gate depth as a percent of the noise floor (noise_gate)")
	fl.Float64Var(&f.padding, "padding", d.PaddingDuration, "seconds added around each segment (noise_gate)")
	fl.Float64Var(&f.minDuration, "min-duration", d.MinSegmentDuration, "drop segments shorter than this many seconds")
}

func (f *settingsFlags) settings(cmd *cobra.Command, cfg *config.Config) detect.Settings {
	s := detect.SettingsFromConfig(cfg.Detect)
	fl := cmd.Flags()
	if fl.Changed("policy") {
		s.Policy = detect.Policy(f.policy)
	}
	if fl.Changed("sensitivity") {
		s.Sensitivity = f.sensitivity
	}
	if fl.Changed("merge-threshold") {
		s.MergeThreshold = f.mergeThreshold
	}
	if fl.Changed("threshold-percent") {
		s.ThresholdPercent = f.thresholdPercent
	}
	if fl.Changed("padding") {
		s.PaddingDuration = f.padding
	}
	if fl.Changed("min-duration") {
		s.MinSegmentDuration = f.minDuration
	}
	return s
}

var processFlags settingsFlags

var processCmd = &cobra.Command{
	Use:   "process [media file...]",
	Short: "Detect events, build a montage and store the segments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		s := processFlags.settings(cmd, cfg)
		if err := s.Validate(); err != nil {
			return err
		}

		engine, err := openEngine(cfg)
		if err != nil {
			return err
		}

		var (
			g  errgroup.Group
			mu sync.Mutex
		)
		g.SetLimit(cfg.Concurrency)

		// one failed input does not stop the others; the first error decides the exit code
		for _, input := range args {
			input := input
			g.Go(func() error {
				pipe, err := pipeline.New(log.Logger, cfg, engine)
				if err != nil {
					return err
				}
				res, err := pipe.DetectAndAssemble(cmd.Context(), input, s)
				if err != nil {
					log.Error().Err(err).Str("input", input).Msg("processing failed")
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				return printJSON(cmd.OutOrStdout(), res)
			})
		}

		return g.Wait()
	},
}

var recombineOutput string

var recombineCmd = &cobra.Command{
	Use:   "recombine [segment name...]",
	Short: "Join stored segments, in the given order, into a new file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		pipe, err := newPipeline(cfg)
		if err != nil {
			return err
		}
		art, err := pipe.Recombine(cmd.Context(), args, recombineOutput)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), art)
	},
}

func init() {
	processFlags.bind(processCmd)
	recombineCmd.Flags().StringVarP(&recombineOutput, "output", "o", "", "output file name inside the output directory")
}
