package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/replay"
)

var (
	replayParallel int
	replayJSON     bool
	replayStrategy string
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Replay a scenario file and report hit rate and load time saved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
	},
}

func runReplay(ctx context.Context, c *config.Config, path string, w io.Writer) error {
	sc, err := replay.LoadScenario(path)
	if err != nil {
		return err
	}
	if replayStrategy != "" {
		sc.Strategy = replayStrategy
	}

	rep, err := replay.NewRunner(c, replayParallel).Run(ctx, sc)
	if err != nil {
		return err
	}

	if replayJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SESSION\tSTEPS\tSKIPPED\tHITS\tHIT RATE\tSAVED MS\tWASTED MS\tPHASE\n")
	for _, s := range rep.Sessions {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d/%d\t%.1f%%\t%.0f\t%.0f\t%s\n",
			s.SessionID, s.Steps, s.Skipped, s.Hits, s.Predictions, s.HitRate*100, s.SavedMS, s.WastedMS, s.Phase)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s (%s): %d steps, hit rate %.1f%%, saved %.0f ms, wasted %.0f ms\n",
		rep.Scenario, rep.Strategy, rep.Steps, rep.HitRate*100, rep.SavedMS, rep.WastedMS)
	return nil
}

func init() {
	replayCmd.Flags().IntVar(&replayParallel, "parallel", 4, "sessions replayed concurrently")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print the report as JSON")
	replayCmd.Flags().StringVar(&replayStrategy, "strategy", "", "override the scenario strategy")
	rootCmd.AddCommand(replayCmd)
}
