package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/collector/internal/core/domain"
	redisclient "github.com/vietddude/collector/internal/infra/redis"
)

var (
	deadLetterLimit int
	purgeAll        bool
)

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List messages that could not be decoded or classified",
	Run:   runDeadLetters,
}

var purgeDeadLettersCmd = &cobra.Command{
	Use:   "purge [id...]",
	Short: "Remove parked dead letters",
	Run:   runPurgeDeadLetters,
}

func init() {
	deadLettersCmd.Flags().IntVar(&deadLetterLimit, "limit", 50, "maximum entries to list (0 = all)")
	purgeDeadLettersCmd.Flags().BoolVar(&purgeAll, "all", false, "remove every parked dead letter")
	deadLettersCmd.AddCommand(purgeDeadLettersCmd)
	rootCmd.AddCommand(deadLettersCmd)
}

func openDeadLetters() (*redisclient.Client, *redisclient.DeadLetterRepo) {
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		slog.Error("dead-letters needs redis.url")
		os.Exit(1)
	}
	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client, redisclient.NewDeadLetterRepo(client, cfg.Redis.DeadLetterTTL)
}

func runDeadLetters(cmd *cobra.Command, args []string) {
	client, repo := openDeadLetters()
	defer func() {
		_ = client.Close()
	}()

	letters, err := repo.List(context.Background(), deadLetterLimit)
	if err != nil {
		slog.Error("Failed to list dead letters", "error", err)
		os.Exit(1)
	}
	printDeadLetters(os.Stdout, letters)
}

func runPurgeDeadLetters(cmd *cobra.Command, args []string) {
	if !purgeAll && len(args) == 0 {
		fmt.Println("Give dead letter ids or --all")
		os.Exit(1)
	}

	client, repo := openDeadLetters()
	defer func() {
		_ = client.Close()
	}()

	ctx := context.Background()
	ids := args
	if purgeAll {
		letters, err := repo.List(ctx, 0)
		if err != nil {
			slog.Error("Failed to list dead letters", "error", err)
			os.Exit(1)
		}
		ids = ids[:0]
		for _, dl := range letters {
			ids = append(ids, dl.ID)
		}
	}

	removed := 0
	for _, id := range ids {
		if err := repo.Remove(ctx, id); err != nil {
			slog.Error("Failed to remove dead letter", "id", id, "error", err)
			continue
		}
		removed++
	}
	fmt.Printf("Removed %d dead letter(s)\n", removed)
}

func printDeadLetters(out io.Writer, letters []*domain.DeadLetter) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tTOPIC\tSTAGE\tRECEIVED\tERROR")
	for _, dl := range letters {
		msg := dl.Error
		if len(msg) > 80 {
			msg = msg[:77] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			dl.ID, dl.Topic, dl.Stage, dl.ReceivedAt.Format(time.RFC3339), msg)
	}
	_ = w.Flush()
}
