// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"consent-vault-service/config"
	"consent-vault-service/internal/crypto"
	"consent-vault-service/internal/handler"
	"consent-vault-service/internal/infra"
	"consent-vault-service/internal/repository"
	"consent-vault-service/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// ログレベル設定
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg, logLevel)

	// DB初期化
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}
	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}

	// 署名鍵の取得（KMS復号または平文Base64）
	signingKey, err := infra.LoadSigningKey(ctx, cfg)
	if err != nil {
		slog.Error("failed to load signing key", "error", err)
		os.Exit(1)
	}
	signer, err := crypto.NewSigner(signingKey)
	if err != nil {
		slog.Error("failed to init signer", "error", err)
		os.Exit(1)
	}

	// DI
	revocationRepo := repository.NewRevocationRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	exportRepo := repository.NewExportRepository(db)
	tokenRecordRepo := repository.NewTokenRecordRepository(db)

	tokenService := usecase.NewTokenService(signer, revocationRepo, tokenRecordRepo, cfg.TokenTTL)
	consentService := usecase.NewConsentService(requestRepo, tokenService, infra.NewLogNotifier(), cfg.DecisionWindow)
	linkService := usecase.NewTrustLinkService(signer, tokenService, revocationRepo)
	exportService := usecase.NewExportService(tokenService, exportRepo, repository.NewAttributeRepository(db), cfg.ExportTTL)

	router := handler.NewRouter(cfg,
		handler.NewConsentHandler(consentService),
		handler.NewTokenHandler(tokenService),
		handler.NewTrustLinkHandler(linkService),
		handler.NewExportHandler(exportService),
	)

	// 期限切れレコードの定期掃除
	if cfg.GCInterval > 0 {
		gc := usecase.NewGCService(revocationRepo, requestRepo, exportRepo, tokenRecordRepo, cfg.DecisionWindow, cfg.RequestRetention)
		go gc.RunPeriodic(ctx, cfg.GCInterval)
	}

	// サーバー起動
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
