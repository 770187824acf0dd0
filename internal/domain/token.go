// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// DefaultTokenTTL はConsent Tokenのデフォルト有効期間。
const DefaultTokenTTL = 24 * time.Hour

// ConsentToken は時間とスコープで制限されたアクセス許可を表す。
// 発行後は不変であり、更新は新しいトークンの発行として扱う。
type ConsentToken struct {
	TokenID   string
	SubjectID string // データの所有者
	HolderID  string // トークンの発行先エージェント/クライアント
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Signature []byte
}

// ExpiresIn は指定時刻からみた残り有効期間を返す。期限切れの場合は0。
func (t *ConsentToken) ExpiresIn(now time.Time) time.Duration {
	if !now.Before(t.ExpiresAt) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// TokenRecord はトークン発行の監査記録を表す。
// 署名済みトークン自体は保持せず、誰に・何のスコープで・いつまで
// 発行したかのみを記録する。
type TokenRecord struct {
	TokenID   string
	SubjectID string
	HolderID  string
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RevocationEntry はトークンの失効記録を表す。
// TokenIDによる個別失効と、(SubjectID, HolderID, Scope) の組による
// 一括失効の両方を表現できる。エントリは対象トークンのExpiresAtを
// 超えて保持する必要はない。
type RevocationEntry struct {
	ID        string
	TokenID   string // 一括失効の場合は空
	SubjectID string
	HolderID  string
	Scope     string
	RevokedAt time.Time
	ExpiresAt time.Time // ガベージコレクションの基準
}
