package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/docforge/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch tasks move through the pipeline",
	Long: `Show a live view of the task ledger. On a terminal this is a dashboard
(j/k to select, r to refresh, q to quit); otherwise a table is printed on
every refresh. Set DOCFORGE_OUTPUT=plain to force the plain view.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchInterval time.Duration
	watchPlain    bool
	watchOnce     bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 2*time.Second, "Refresh interval")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "Print tables instead of the dashboard")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Print the table once and exit")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	detector := tui.NewDetector()
	if watchPlain || watchOnce {
		detector.ForceMode(tui.ModePlain)
	}

	if detector.Detect() == tui.ModeTUI {
		return tui.Run(cmd.Context(), a.stores.Ledger, watchInterval)
	}
	interval := watchInterval
	if watchOnce {
		interval = 0
	}
	return tui.RunPlain(cmd.Context(), cmd.OutOrStdout(), a.stores.Ledger, interval)
}
