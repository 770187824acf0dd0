package domain

import "time"

// DefaultExportTTL はエクスポートのデフォルト保持期間。
// トークン自体の期限とは独立した短い期間で破棄する。
const DefaultExportTTL = 1 * time.Hour

// DataExport はゼロ知識エクスポートの成果物を表す。
// サーバー側に永続化されるのは Ciphertext / Nonce / AuthTag のみで、
// エクスポート鍵は準備時に一度だけ呼び出し元へ返却され、保存状態から
// 再導出することはできない。
type DataExport struct {
	ExportID       string
	ConsentTokenID string // エクスポートを認可したトークン
	SubjectID      string
	Scope          string // 認可時に検証したスコープ（取得時に再検証する）
	Ciphertext     []byte
	Nonce          []byte
	AuthTag        []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
}
