package tui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// RunPlain prints the task table every interval until ctx is cancelled.
// A non-positive interval prints once.
func RunPlain(ctx context.Context, w io.Writer, ledger core.TaskLedger, interval time.Duration) error {
	for {
		tasks, err := ledger.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scanning ledger: %w", err)
		}
		now := time.Now()
		fmt.Fprintf(w, "%s  %s\n", now.Format("15:04:05"), Summary(tasks))
		if len(tasks) > 0 {
			fmt.Fprintln(w, RenderTable(tasks, TableOptions{Selected: -1, Now: now}))
		}
		if interval <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
