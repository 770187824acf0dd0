package domain

import "time"

// RequestStatus は同意リクエストの状態を表す。
type RequestStatus string

const (
	// RequestStatusPending は人間の判断待ちの状態。
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusGranted は承認された状態。
	RequestStatusGranted RequestStatus = "granted"
	// RequestStatusDenied は拒否された状態。
	RequestStatusDenied RequestStatus = "denied"
	// RequestStatusExpired は決定期限を超過した状態。
	RequestStatusExpired RequestStatus = "expired"
)

// IsTerminal は終端状態かどうかを返す。状態遷移は単調であり、
// 一度終端状態になったリクエストは決して戻らない。
func (s RequestStatus) IsTerminal() bool {
	return s != RequestStatusPending
}

// ConsentRequest は人間の承認を介する同意リクエストの状態機械インスタンスを表す。
// GRANTEDのリクエストは必ず非空のResultingTokenIDを持ち、そのトークンの
// スコープはRequestedScopeと一致する。
type ConsentRequest struct {
	RequestID        string
	SubjectID        string
	RequesterID      string
	RequestedScope   string
	Status           RequestStatus
	CreatedAt        time.Time
	DecidedAt        *time.Time
	ResultingTokenID string // GRANTED時のみ非空
	ResultingToken   []byte // 発行済みトークンのワイヤ形式（リクエスタが回収する）
}
