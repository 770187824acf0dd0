package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"consent-vault-service/config"
	"consent-vault-service/internal/infra"
	"consent-vault-service/internal/repository"
	"consent-vault-service/internal/usecase"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Sweep expired records",
	Long:  "Delete expired revocation entries, decided consent requests past retention, expired exports and token records",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required")
		}

		cfg := config.Load()
		db, err := infra.NewDB(dsn, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		gc := usecase.NewGCService(
			repository.NewRevocationRepository(db),
			repository.NewRequestRepository(db),
			repository.NewExportRepository(db),
			repository.NewTokenRecordRepository(db),
			cfg.DecisionWindow,
			cfg.RequestRetention,
		)

		stats := gc.Sweep(context.Background())
		fmt.Printf("Expired %d stale requests. Deleted %d revocation entries, %d consent requests, %d exports, %d token records.\n",
			stats.RequestsExpired, stats.RevocationsDeleted, stats.RequestsDeleted, stats.ExportsDeleted, stats.TokenRecordsDeleted)
		return nil
	},
}
