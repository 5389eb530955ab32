package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/bdougie/vidfeatures/internal/config"
	"github.com/bdougie/vidfeatures/internal/embeddings"
	"github.com/bdougie/vidfeatures/internal/storage"
)

func searchCommand(env *config.Env, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Find stored frames similar to a stored frame (save_pgvector runs)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "feature-type",
				Usage:    "Feature type the frames were extracted with",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "video",
				Usage:    "Video path the query frame belongs to, as it was extracted",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "frame",
				Usage: "Frame number of the query frame",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of results",
				Value: 10,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			arch, err := embeddings.Lookup(cmd.String("feature-type"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if cmd.Int("limit") <= 0 {
				return cli.Exit("limit must be greater than zero", 2)
			}

			store, err := storage.NewPostgresSink(ctx, env.DatabaseURL, arch.Name, arch.FeatureDim, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			query, err := store.FrameEmbedding(ctx, cmd.String("video"), cmd.Int("frame"))
			if err != nil {
				return err
			}

			results, err := store.Nearest(ctx, query, cmd.Int("limit"))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VIDEO\tFRAME\tTIMESTAMP_MS\tSIMILARITY")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%d\t%.1f\t%.4f\n", r.VideoPath, r.FrameNumber, r.TimestampMs, r.Similarity)
			}
			return w.Flush()
		},
	}
}
