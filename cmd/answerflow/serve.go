package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/answer"
	"github.com/BaSui01/answerflow/internal/server"
	"github.com/BaSui01/answerflow/internal/telemetry"
	"github.com/BaSui01/answerflow/internal/tlsutil"
	"github.com/BaSui01/answerflow/types"
)

const (
	routeAnswer  = "/v1/answer"
	routeStats   = "/v1/stats"
	routeHealth  = "/healthz"
	routeMetrics = "/metrics"
	routeVersion = "/version"

	maxRequestBytes = 1 << 20
)

// answerService HTTP 层依赖的问答能力
type answerService interface {
	AnswerQuestion(ctx context.Context, req *answer.Request) (*answer.Response, error)
	Stats(ctx context.Context) answer.Stats
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCommand(global *globalOptions) *cobra.Command {
	var documents string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP answer service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), global.configPath, documents)
		},
	}
	cmd.Flags().StringVar(&documents, "documents", "", "Corpus file or directory loaded into the stores at startup")
	return cmd
}

func runServe(ctx context.Context, configPath, documents string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting AnswerFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	app, err := newApplication(ctx, cfg, appOptions{documents: documents}, logger)
	if err != nil {
		return err
	}

	handler := newHTTPHandler(app.service, promhttp.Handler(), logger)
	handler = Chain(handler,
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(app.collector),
		RequestLogger(logger),
	)

	srv := server.NewManager(handler, server.ConfigFrom(cfg.Server), logger)
	if err := srv.Start(); err != nil {
		_ = app.Close(context.Background())
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	waitErr := srv.Wait(sigCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = app.Close(shutdownCtx)
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}

	logger.Info("AnswerFlow stopped")
	return waitErr
}

// =============================================================================
// 🌐 HTTP 处理器
// =============================================================================

// newHTTPHandler 注册问答、统计、健康检查与指标路由
func newHTTPHandler(svc answerService, metricsHandler http.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+routeAnswer, handleAnswer(svc, logger))
	mux.HandleFunc("GET "+routeStats, handleStats(svc))
	mux.HandleFunc("GET "+routeHealth, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET "+routeVersion, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})
	if metricsHandler != nil {
		mux.Handle("GET "+routeMetrics, metricsHandler)
	}
	return mux
}

func handleAnswer(svc answerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, _ := types.RequestID(r.Context())

		var req answer.Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, requestID, types.NewValidationError(types.ErrInvalidQuestion,
					fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)).WithHTTPStatus(http.StatusRequestEntityTooLarge))
				return
			}
			writeError(w, requestID, types.NewValidationError(types.ErrInvalidQuestion, "malformed request body: "+err.Error()))
			return
		}

		resp, err := svc.AnswerQuestion(r.Context(), &req)
		if err != nil {
			if types.HTTPStatusOf(err) >= http.StatusInternalServerError {
				logger.Debug("answer request failed", zap.String("request_id", requestID), zap.Error(err))
			}
			writeError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleStats(svc answerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Stats(r.Context()))
	}
}

type errorResponse struct {
	Error     *types.Error `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
}

// writeError 以统一结构输出错误；非 types.Error 按内部错误处理且不暴露细节
func writeError(w http.ResponseWriter, requestID string, err error) {
	e, ok := types.AsError(err)
	if !ok {
		e = types.NewError(types.ErrInternalError, "internal server error").WithHTTPStatus(http.StatusInternalServerError)
	}
	status := types.HTTPStatusOf(e)
	if e.Code == types.ErrRateLimited {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Error: e, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

// healthTimeout 外部健康检查超时
const healthTimeout = 5 * time.Second

func newHealthCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkHealth(cmd.Context(), tlsutil.SecureHTTPClient(healthTimeout), addr); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Server address")
	return cmd
}

func checkHealth(ctx context.Context, client *http.Client, addr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+routeHealth, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}
