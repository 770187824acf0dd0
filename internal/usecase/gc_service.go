package usecase

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRequestRetention は終端状態の同意リクエストの保持期間。
const DefaultRequestRetention = 30 * 24 * time.Hour

// GCStats は一回の掃除で処理された件数を表す。
type GCStats struct {
	RevocationsDeleted  int64
	RequestsExpired     int64
	RequestsDeleted     int64
	ExportsDeleted      int64
	TokenRecordsDeleted int64
}

// TokenRecordSweeper は期限切れ発行記録の掃除のインターフェース。
type TokenRecordSweeper interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GCService は期限切れレコードの定期的な掃除を提供する。
// 掃除は衛生目的であり、失敗しても暗号学的な判定を妨げては
// ならないため、エラーはローカルで回復（ログ出力）する。
type GCService struct {
	revocations      RevocationRepository
	requests         RequestRepository
	exports          ExportRepository
	records          TokenRecordSweeper // nilの場合は発行記録の掃除を行わない
	decisionWindow   time.Duration
	requestRetention time.Duration
	now              func() time.Time
}

// NewGCService は新しいGCServiceを生成する。
// decisionWindowが0以下の場合はDefaultDecisionWindow、
// requestRetentionが0以下の場合はDefaultRequestRetentionを使用する。
func NewGCService(revocations RevocationRepository, requests RequestRepository, exports ExportRepository, records TokenRecordSweeper, decisionWindow, requestRetention time.Duration) *GCService {
	if decisionWindow <= 0 {
		decisionWindow = DefaultDecisionWindow
	}
	if requestRetention <= 0 {
		requestRetention = DefaultRequestRetention
	}
	return &GCService{
		revocations:      revocations,
		requests:         requests,
		exports:          exports,
		records:          records,
		decisionWindow:   decisionWindow,
		requestRetention: requestRetention,
		now:              time.Now,
	}
}

// Sweep は期限切れの失効エントリ・決定済みリクエスト・エクスポート
// 記録を一度だけ掃除する。
func (s *GCService) Sweep(ctx context.Context) GCStats {
	now := s.now().UTC()
	var stats GCStats

	n, err := s.revocations.DeleteExpiredBefore(ctx, now)
	if err != nil {
		slog.WarnContext(ctx, "revocation sweep failed", "operation", "gc_sweep", "error", err)
	} else {
		stats.RevocationsDeleted = n
	}

	// 一度も読まれなかったpendingも遅延期限判定と同じ基準で回収する
	n, err = s.requests.ExpireStalePending(ctx, now.Add(-s.decisionWindow))
	if err != nil {
		slog.WarnContext(ctx, "stale pending sweep failed", "operation", "gc_sweep", "error", err)
	} else {
		stats.RequestsExpired = n
	}

	n, err = s.requests.DeleteDecidedBefore(ctx, now.Add(-s.requestRetention))
	if err != nil {
		slog.WarnContext(ctx, "request sweep failed", "operation", "gc_sweep", "error", err)
	} else {
		stats.RequestsDeleted = n
	}

	n, err = s.exports.DeleteExpiredBefore(ctx, now)
	if err != nil {
		slog.WarnContext(ctx, "export sweep failed", "operation", "gc_sweep", "error", err)
	} else {
		stats.ExportsDeleted = n
	}

	if s.records != nil {
		n, err = s.records.DeleteExpiredBefore(ctx, now)
		if err != nil {
			slog.WarnContext(ctx, "token record sweep failed", "operation", "gc_sweep", "error", err)
		} else {
			stats.TokenRecordsDeleted = n
		}
	}

	return stats
}

// RunPeriodic は指定間隔で掃除を繰り返す。ctxのキャンセルで停止する。
func (s *GCService) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.Sweep(ctx)
			slog.InfoContext(ctx, "garbage collection completed",
				"operation", "gc_sweep",
				"revocations_deleted", stats.RevocationsDeleted,
				"requests_expired", stats.RequestsExpired,
				"requests_deleted", stats.RequestsDeleted,
				"exports_deleted", stats.ExportsDeleted,
				"token_records_deleted", stats.TokenRecordsDeleted,
			)
		}
	}
}
