package domain

import "time"

// TrustLink はエージェント間の委譲証明を表す。
// TargetAgentがSourceAgentの許可スコープの部分集合の範囲で
// 行動することを許可する。発行後の検証は署名と期限のみで完結し、
// 永続ストアを必要としない。
type TrustLink struct {
	LinkID             string
	SourceAgentID      string
	TargetAgentID      string
	AuthorizingTokenID string // 委譲の根拠となったトークン。失効済みのルートは派生リンクも無効化する
	DelegatedScope     string // 認可トークンのスコープを超えない
	IssuedAt           time.Time
	ExpiresAt          time.Time // 認可トークンのExpiresAtにクランプされる
	Signature          []byte
}
