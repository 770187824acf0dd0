// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation string `json:"operation"`
	SubjectID string `json:"subject_id"`
	Scope     string `json:"scope,omitempty"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp"`
}

// WriteAuditLog は同意操作の監査ログを出力する。
func WriteAuditLog(ctx context.Context, operation string, subjectID string, scope string, result string) {
	slog.InfoContext(ctx, "consent operation completed",
		"operation", operation,
		"subject_id", subjectID,
		"scope", scope,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
