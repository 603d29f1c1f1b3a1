package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// 📥 ingest 命令
// =============================================================================

func newIngestCommand(global *globalOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed a corpus and write it to the configured stores",
		Long: "Loads .txt, .md, .csv, .json and .jsonl files, embeds them in batches and upserts them " +
			"into the configured vector store. Entities declared in JSON records go to the graph store.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd.OutOrStdout(), global.configPath, path)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Corpus file or directory")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func runIngest(ctx context.Context, out io.Writer, configPath, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	if cfg.Retrieval.VectorStore == "" || cfg.Retrieval.VectorStore == "memory" {
		logger.Warn("ingesting into the in-memory vector store; documents are lost when the command exits")
	}

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.close(context.Background()) }()

	stats, err := st.ingest(ctx, path, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "indexed %d documents (%d chunks) in %d batches, %d entities (%s)\n",
		stats.Documents, stats.Chunks, stats.Batches, stats.Entities, stats.Duration.Round(time.Millisecond))
	return nil
}
