package infra

import (
	"context"
	"log/slog"
)

// LogNotifier はデータ主体への承認依頼通知をログ出力で代替するNotifier実装。
// 実際の通知チャネル（プッシュ通知等）への接続はこの実装を差し替える。
type LogNotifier struct{}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// NotifySubject はデータ主体に承認待ちリクエストの発生を通知する。
func (n *LogNotifier) NotifySubject(ctx context.Context, subjectID, requestID string) error {
	slog.InfoContext(ctx, "consent approval requested",
		"operation", "NotifySubject",
		"subject_id", subjectID,
		"request_id", requestID,
	)
	return nil
}
