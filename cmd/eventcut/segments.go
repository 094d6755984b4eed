package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/keagan/eventcut/internal/config"
	"github.com/keagan/eventcut/internal/store"
	"github.com/keagan/eventcut/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	segmentsWatch bool
	segmentsJSON  bool
)

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "List, prune or watch stored segments",
	RunE: func(cmd *cobra.Command, args []string) error {
		if segmentsWatch {
			return watchSegments(cmd)
		}
		return listSegments(cmd)
	},
}

var segmentsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List stored segments",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSegments(cmd)
	},
}

var segmentsRemoveCmd = &cobra.Command{
	Use:   "rm [segment name...]",
	Short: "Prune stored segments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := newPipeline(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		for _, name := range args {
			if err := pipe.Store().Remove(name); err != nil {
				return err
			}
		}
		return nil
	},
}

func listSegments(cmd *cobra.Command) error {
	pipe, err := newPipeline(config.FromContext(cmd.Context()))
	if err != nil {
		return err
	}
	list, err := pipe.ListSegmentArtifacts(cmd.Context())
	if err != nil {
		return err
	}
	if segmentsJSON {
		if list == nil {
			list = []store.SegmentArtifact{}
		}
		return printJSON(cmd.OutOrStdout(), list)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTART\tEND\tDURATION\tSIZE")
	for _, a := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2fs\t%d\n",
			a.Filename, util.FormatSeconds(a.Start), util.FormatSeconds(a.End), a.Duration, a.SizeBytes)
	}
	return w.Flush()
}

func watchSegments(cmd *cobra.Command) error {
	pipe, err := newPipeline(config.FromContext(cmd.Context()))
	if err != nil {
		return err
	}
	log.Info().Str("dir", pipe.Store().Dir()).Msg("watching segments, ctrl-c to stop")
	return pipe.Store().Watch(cmd.Context(), func(c store.Change) {
		sign := "+"
		if !c.Present {
			sign = "-"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sign, c.Name)
	})
}

func init() {
	segmentsCmd.Flags().BoolVarP(&segmentsWatch, "watch", "w", false, "report segments as they are stored or pruned")
	segmentsCmd.PersistentFlags().BoolVar(&segmentsJSON, "json", false, "print JSON")
	segmentsCmd.AddCommand(segmentsListCmd)
	segmentsCmd.AddCommand(segmentsRemoveCmd)
}
