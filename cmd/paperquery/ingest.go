package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmorrow/paperquery/internal/ingest"
)

func ingestCmd() *cobra.Command {
	var (
		workers   int
		batchSize int
		skipEmbed bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <corpus.json>",
		Short: "Load a JSON paper corpus into the database and embed it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			stats, err := a.ingester.IngestFile(ctx, args[0], &ingest.Config{
				Workers:   workers,
				BatchSize: batchSize,
				SkipEmbed: skipEmbed,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Loaded:   %d papers (%d failed)\n", stats.PapersLoaded, stats.PapersFailed)
			fmt.Printf("Embedded: %d papers (%d failed)\n", stats.Embedded, stats.EmbedFailed)
			fmt.Printf("Duration: %s\n", stats.Duration.Round(time.Millisecond))
			for _, msg := range stats.ErrorMessages {
				fmt.Fprintf(os.Stderr, "  %s\n", msg)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent upsert workers (default: CPU count)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "papers per embedding batch")
	cmd.Flags().BoolVar(&skipEmbed, "skip-embed", false, "load metadata only, defer embedding")
	return cmd
}
