package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/answer"
	"github.com/BaSui01/answerflow/internal/telemetry"
	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/types"
)

// =============================================================================
// ❓ ask 命令
// =============================================================================

type askOptions struct {
	intent    string
	filters   []string
	documents string
	jsonOut   bool
}

func newAskCommand(global *globalOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), global.configPath, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.intent, "intent", "", "Question intent (defaults to the first configured intent)")
	cmd.Flags().StringArrayVar(&opts.filters, "filter", nil, "Metadata filter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.documents, "documents", "", "Corpus file or directory loaded before answering")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the full response as JSON")
	return cmd
}

func runAsk(ctx context.Context, out io.Writer, configPath, question string, opts *askOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	filters, err := parseFilters(opts.filters)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	otelProviders, err := telemetry.Init(cfg, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = otelProviders.Shutdown(context.Background()) }()

	app, err := newApplication(ctx, cfg, appOptions{
		documents:  opts.documents,
		registerer: prometheus.NewRegistry(),
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	intent := defaultIntent(cfg)
	if opts.intent != "" {
		intent = types.ParseIntent(opts.intent)
	}

	resp, err := app.service.AnswerQuestion(ctx, &answer.Request{
		Question: question,
		Intent:   intent,
		Filters:  filters,
	})
	if err != nil {
		return err
	}
	return printAnswer(out, resp, opts.jsonOut)
}

// parseFilters 解析 key=value 形式的过滤条件
func parseFilters(raw []string) (rag.Filters, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(rag.Filters, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key=value", kv)
		}
		filters[key] = value
	}
	return filters, nil
}

func printAnswer(out io.Writer, resp *answer.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintln(out, resp.AnswerText)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for i, s := range resp.Sources {
			title := s.Title
			if title == "" {
				title = s.DocumentID
			}
			fmt.Fprintf(out, "  [%d] %s (%s, %.3f)\n", i+1, title, s.DocumentID, s.Score)
		}
	}

	status := string(resp.CacheStatus.Kind)
	if resp.CacheStatus.Kind == rag.CacheHitSemantic {
		status = fmt.Sprintf("%s %.3f", status, resp.CacheStatus.Similarity)
	}
	fmt.Fprintf(out, "\ncache=%s tier=%s top_k=%d request_id=%s\n", status, resp.Tier, resp.TopK, resp.RequestID)
	return nil
}
