package domain

import (
	"fmt"
	"strings"
)

// ScopeKind はスコープ文字列の種別を表す。
type ScopeKind string

const (
	// ScopeKindOwner はVault全体へのマスター権限を表す。
	ScopeKindOwner ScopeKind = "vault.owner"
	// ScopeKindWorldModelRead はworld_model全体の読み取り権限を表す。
	ScopeKindWorldModelRead ScopeKind = "world_model.read"
	// ScopeKindWorldModelWrite はworld_model全体の書き込み権限を表す。
	ScopeKindWorldModelWrite ScopeKind = "world_model.write"
	// ScopeKindAttribute は特定ドメインの属性に対する権限を表す。
	ScopeKindAttribute ScopeKind = "attr"
)

// wildcardAttribute はドメイン内全属性を表すワイルドカード。
const wildcardAttribute = "*"

// Scope はパース済みのスコープを表す。
// スコープ文字列は動的に登録されるドメイン名を含むため、
// 固定の列挙ではなく構造としてパースして扱う。
type Scope struct {
	Kind      ScopeKind
	Domain    string // Kind == ScopeKindAttribute の場合のみ非空
	Attribute string // 属性キーまたは "*"
}

// ParseScope はスコープ文字列をパースする。
// 文法: "vault.owner" | "world_model.read" | "world_model.write" |
// "attr.<domain>.(*|<key>)"。不正な文字列は常にErrInvalidScopeで失敗する。
func ParseScope(s string) (Scope, error) {
	switch s {
	case string(ScopeKindOwner):
		return Scope{Kind: ScopeKindOwner}, nil
	case string(ScopeKindWorldModelRead):
		return Scope{Kind: ScopeKindWorldModelRead}, nil
	case string(ScopeKindWorldModelWrite):
		return Scope{Kind: ScopeKindWorldModelWrite}, nil
	}

	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[0] != string(ScopeKindAttribute) {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
	if parts[1] == "" || parts[2] == "" {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
	if strings.ContainsAny(parts[1], "* ") {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
	return Scope{
		Kind:      ScopeKindAttribute,
		Domain:    parts[1],
		Attribute: parts[2],
	}, nil
}

// String はスコープ文字列表現を返す。
func (s Scope) String() string {
	if s.Kind == ScopeKindAttribute {
		return string(ScopeKindAttribute) + "." + s.Domain + "." + s.Attribute
	}
	return string(s.Kind)
}

// IsWildcard はドメインワイルドカードスコープかどうかを返す。
func (s Scope) IsWildcard() bool {
	return s.Kind == ScopeKindAttribute && s.Attribute == wildcardAttribute
}

// Satisfies は保持スコープが要求スコープを満たすか判定する。
// スコープは明示的な最上位要素（vault.owner）を持つ半順序として評価する。
// ルールは特定度の高い順に評価される:
//  1. vault.owner は全ての要求を満たす
//  2. 完全一致
//  3. ドメインワイルドカード（attr.<domain>.*）は同一ドメインの要求を満たす
//  4. world_model.read は attr.* 系の読み取り要求を満たす
//     （world_model.write は決して満たさない）
func (s Scope) Satisfies(requested Scope) bool {
	// ルール1: マスター権限
	if s.Kind == ScopeKindOwner {
		return true
	}

	// ルール2: 完全一致
	if s == requested {
		return true
	}

	// ルール3: ドメインワイルドカード
	if s.IsWildcard() && requested.Kind == ScopeKindAttribute && requested.Domain == s.Domain {
		return true
	}

	// ルール4: world_model.read は属性読み取りを包括する旧形式の権限
	if s.Kind == ScopeKindWorldModelRead && requested.Kind == ScopeKindAttribute {
		return true
	}

	return false
}

// SatisfiesScope は文字列で与えられたスコープ同士の判定を行う。
// どちらかがパースできない場合は常にfalse（フェイルクローズ）。
func SatisfiesScope(held, requested string) bool {
	h, err := ParseScope(held)
	if err != nil {
		return false
	}
	r, err := ParseScope(requested)
	if err != nil {
		return false
	}
	return h.Satisfies(r)
}
