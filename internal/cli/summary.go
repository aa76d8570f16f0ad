package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/infra/storage/postgres"
	"github.com/vietddude/collector/internal/processing/management"
)

var summaryRange string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show exception counts by status, interface and severity",
	Run:   runSummary,
}

func init() {
	summaryCmd.Flags().StringVar(&summaryRange, "range", "7d", "time range: 24h, 7d, 30d or 90d")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("summary needs database.url; in-memory records live only inside the running service")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	since := time.Now().Add(-management.ParseTimeRange(summaryRange))
	sum, err := postgres.NewExceptionRepo(db).Summarize(ctx, since)
	if err != nil {
		slog.Error("Failed to summarize exceptions", "error", err)
		os.Exit(1)
	}
	printSummary(os.Stdout, summaryRange, sum)
}

func printSummary(out io.Writer, timeRange string, sum *storage.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintf(w, "TOTAL (%s)\t%d\n", timeRange, sum.Total)

	section := func(title string, counts map[string]int) {
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = fmt.Fprintf(w, "\n%s\tCOUNT\n", title)
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
		}
	}

	byStatus := make(map[string]int, len(sum.ByStatus))
	for k, v := range sum.ByStatus {
		byStatus[string(k.Canonical())] += v
	}
	byInterface := make(map[string]int, len(sum.ByInterfaceType))
	for k, v := range sum.ByInterfaceType {
		byInterface[string(k)] = v
	}
	bySeverity := make(map[string]int, len(sum.BySeverity))
	for k, v := range sum.BySeverity {
		bySeverity[string(k)] = v
	}

	section("STATUS", byStatus)
	section("INTERFACE", byInterface)
	section("SEVERITY", bySeverity)
	_ = w.Flush()
}
