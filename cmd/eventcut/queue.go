package main

import (
	"fmt"

	"github.com/keagan/eventcut/internal/config"
	"github.com/keagan/eventcut/internal/pipeline"
	"github.com/keagan/eventcut/internal/worker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the queue worker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		engine, err := openEngine(cfg)
		if err != nil {
			return err
		}
		version, err := engine.Version(cmd.Context())
		if err != nil {
			return err
		}
		log.Info().Str("ffmpeg", version).Msg("engine ready")

		q := worker.NewQueue(log.Logger, cfg)
		defer q.Close()
		q.Register(func() (worker.Runner, error) {
			return pipeline.New(log.Logger, cfg, engine)
		})
		return q.Serve(cmd.Context())
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit work to the queue worker",
}

var enqueueFlags settingsFlags

var enqueueProcessCmd = &cobra.Command{
	Use:   "process [media file]",
	Short: "Queue a processing run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		q := worker.NewQueue(log.Logger, cfg)
		defer q.Close()

		id, err := q.EnqueueProcess(cmd.Context(), worker.ProcessPayload{
			MediaPath: args[0],
			Settings:  enqueueFlags.settings(cmd, cfg),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var enqueueOutput string

var enqueueRecombineCmd = &cobra.Command{
	Use:   "recombine [segment name...]",
	Short: "Queue a recombination",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := worker.NewQueue(log.Logger, config.FromContext(cmd.Context()))
		defer q.Close()

		id, err := q.EnqueueRecombine(cmd.Context(), worker.RecombinePayload{Names: args, OutputName: enqueueOutput})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [task id]",
	Short: "Show a queued task's state and result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := worker.NewQueue(log.Logger, config.FromContext(cmd.Context()))
		defer q.Close()

		st, err := q.Status(args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [task id]",
	Short: "Cancel a running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := worker.NewQueue(log.Logger, config.FromContext(cmd.Context()))
		defer q.Close()
		return q.Cancel(args[0])
	},
}

func init() {
	enqueueFlags.bind(enqueueProcessCmd)
	enqueueRecombineCmd.Flags().StringVarP(&enqueueOutput, "output", "o", "", "output file name inside the output directory")
	enqueueCmd.AddCommand(enqueueProcessCmd)
	enqueueCmd.AddCommand(enqueueRecombineCmd)
}
