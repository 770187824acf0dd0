package infra

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"

	"consent-vault-service/config"
)

// traceLogHandler は有効なスパンのトレース情報をログレコードに
// 付与するslogハンドラ。トレースが無効な構成ではそのまま委譲する。
type traceLogHandler struct {
	inner       slog.Handler
	projectID   string
	otelEnabled bool
}

func (h *traceLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *traceLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.otelEnabled {
		return h.inner.Handle(ctx, r)
	}

	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		traceID := sc.TraceID().String()
		spanID := sc.SpanID().String()
		r.AddAttrs(
			slog.String("trace", traceID),
			slog.String("spanId", spanID),
			slog.Bool("traceSampled", sc.IsSampled()),
		)
		// Cloud Loggingのトレース相関フィールド
		if h.projectID != "" {
			r.AddAttrs(
				slog.String("logging.googleapis.com/trace",
					"projects/"+h.projectID+"/traces/"+traceID),
				slog.String("logging.googleapis.com/spanId", spanID),
			)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *traceLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceLogHandler{
		inner:       h.inner.WithAttrs(attrs),
		projectID:   h.projectID,
		otelEnabled: h.otelEnabled,
	}
}

func (h *traceLogHandler) WithGroup(name string) slog.Handler {
	return &traceLogHandler{
		inner:       h.inner.WithGroup(name),
		projectID:   h.projectID,
		otelEnabled: h.otelEnabled,
	}
}

// SetupLogger はJSON形式・トレース情報付きのグローバルロガーを設定する。
func SetupLogger(cfg *config.Config, level slog.Level) {
	handler := &traceLogHandler{
		inner:       slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
		projectID:   cfg.GoogleCloudProject,
		otelEnabled: cfg.OtelEnabled,
	}
	slog.SetDefault(slog.New(handler))
}
