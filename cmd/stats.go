package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendercrawl/rendercrawl/internal/stats"
)

// newStatsCmd creates the 'stats' subcommand, which summarizes a result file
// produced by a previous crawl run.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [results.json]",
		Short: "Summarizes a crawl result file",
		Long: `Reads a JSON result file from a previous crawl and prints status counts,
HTML size percentiles for both initial and rendered pages, the rendered/initial
size ratio, and timing figures.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "crawl_results.json"
			if len(args) == 1 {
				path = args[0]
			}
			results, err := stats.Load(path)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				return fmt.Errorf("no results in %s", path)
			}
			report := stats.Compute(results)
			return report.Write(os.Stdout)
		},
	}
}
