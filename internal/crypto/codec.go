package crypto

import (
	"encoding/binary"
	"time"

	"github.com/fxamacker/cbor/v2"

	"consent-vault-service/internal/domain"
)

// ワイヤ形式のバージョン。
const wireVersion = 1

// 署名対象バイト列のドメイン分離タグ。トークンとTrustLinkの署名が
// 相互に再解釈されることを防ぐ。
const (
	signingTagToken byte = 0x01
	signingTagLink  byte = 0x02
)

// encMode はCBOR正準エンコードモード。ワイヤ形式は
// serialize→deserializeでバイト単位に往復可能でなければならない。
var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// wireToken はConsent Tokenのワイヤ形式。
type wireToken struct {
	Version   uint8  `cbor:"v"`
	TokenID   string `cbor:"tid"`
	SubjectID string `cbor:"sub"`
	HolderID  string `cbor:"hld"`
	Scope     string `cbor:"scp"`
	IssuedAt  int64  `cbor:"iat"`
	ExpiresAt int64  `cbor:"exp"`
	Signature []byte `cbor:"sig"`
}

// wireLink はTrustLinkのワイヤ形式。
type wireLink struct {
	Version            uint8  `cbor:"v"`
	LinkID             string `cbor:"lid"`
	SourceAgentID      string `cbor:"src"`
	TargetAgentID      string `cbor:"tgt"`
	AuthorizingTokenID string `cbor:"rtk"`
	DelegatedScope     string `cbor:"scp"`
	IssuedAt           int64  `cbor:"iat"`
	ExpiresAt          int64  `cbor:"exp"`
	Signature          []byte `cbor:"sig"`
}

// appendField はフィールド値を長さプレフィックス付きで追加する。
// 署名対象は順序固定・長さプレフィックス付きの正規形とし、
// フィールド境界の再解釈による曖昧さを排除する。
func appendField(b []byte, field []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(field)))
	return append(b, field...)
}

func appendTime(b []byte, t time.Time) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(t.Unix()))
}

// TokenSigningBytes はConsent Tokenの署名対象となる正規形バイト列を返す。
func TokenSigningBytes(t *domain.ConsentToken) []byte {
	b := make([]byte, 0, 128)
	b = append(b, signingTagToken, wireVersion)
	b = appendField(b, []byte(t.TokenID))
	b = appendField(b, []byte(t.SubjectID))
	b = appendField(b, []byte(t.HolderID))
	b = appendField(b, []byte(t.Scope))
	b = appendTime(b, t.IssuedAt)
	b = appendTime(b, t.ExpiresAt)
	return b
}

// LinkSigningBytes はTrustLinkの署名対象となる正規形バイト列を返す。
func LinkSigningBytes(l *domain.TrustLink) []byte {
	b := make([]byte, 0, 128)
	b = append(b, signingTagLink, wireVersion)
	b = appendField(b, []byte(l.LinkID))
	b = appendField(b, []byte(l.SourceAgentID))
	b = appendField(b, []byte(l.TargetAgentID))
	b = appendField(b, []byte(l.AuthorizingTokenID))
	b = appendField(b, []byte(l.DelegatedScope))
	b = appendTime(b, l.IssuedAt)
	b = appendTime(b, l.ExpiresAt)
	return b
}

// EncodeToken はConsent Tokenをワイヤ形式にエンコードする。
func EncodeToken(t *domain.ConsentToken) ([]byte, error) {
	return encMode.Marshal(&wireToken{
		Version:   wireVersion,
		TokenID:   t.TokenID,
		SubjectID: t.SubjectID,
		HolderID:  t.HolderID,
		Scope:     t.Scope,
		IssuedAt:  t.IssuedAt.Unix(),
		ExpiresAt: t.ExpiresAt.Unix(),
		Signature: t.Signature,
	})
}

// DecodeToken はワイヤ形式のバイト列をConsent Tokenにデコードする。
// デコードできない、または必須フィールドを欠く入力は
// 全てErrMalformedTokenで失敗する。
func DecodeToken(data []byte) (*domain.ConsentToken, error) {
	var w wireToken
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, domain.ErrMalformedToken
	}
	if w.Version != wireVersion {
		return nil, domain.ErrMalformedToken
	}
	if w.TokenID == "" || w.SubjectID == "" || w.HolderID == "" || w.Scope == "" {
		return nil, domain.ErrMalformedToken
	}
	if len(w.Signature) == 0 {
		return nil, domain.ErrMalformedToken
	}
	return &domain.ConsentToken{
		TokenID:   w.TokenID,
		SubjectID: w.SubjectID,
		HolderID:  w.HolderID,
		Scope:     w.Scope,
		IssuedAt:  time.Unix(w.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(w.ExpiresAt, 0).UTC(),
		Signature: w.Signature,
	}, nil
}

// EncodeLink はTrustLinkをワイヤ形式にエンコードする。
func EncodeLink(l *domain.TrustLink) ([]byte, error) {
	return encMode.Marshal(&wireLink{
		Version:            wireVersion,
		LinkID:             l.LinkID,
		SourceAgentID:      l.SourceAgentID,
		TargetAgentID:      l.TargetAgentID,
		AuthorizingTokenID: l.AuthorizingTokenID,
		DelegatedScope:     l.DelegatedScope,
		IssuedAt:           l.IssuedAt.Unix(),
		ExpiresAt:          l.ExpiresAt.Unix(),
		Signature:          l.Signature,
	})
}

// DecodeLink はワイヤ形式のバイト列をTrustLinkにデコードする。
func DecodeLink(data []byte) (*domain.TrustLink, error) {
	var w wireLink
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, domain.ErrMalformedToken
	}
	if w.Version != wireVersion {
		return nil, domain.ErrMalformedToken
	}
	if w.LinkID == "" || w.SourceAgentID == "" || w.TargetAgentID == "" || w.DelegatedScope == "" {
		return nil, domain.ErrMalformedToken
	}
	if len(w.Signature) == 0 {
		return nil, domain.ErrMalformedToken
	}
	return &domain.TrustLink{
		LinkID:             w.LinkID,
		SourceAgentID:      w.SourceAgentID,
		TargetAgentID:      w.TargetAgentID,
		AuthorizingTokenID: w.AuthorizingTokenID,
		DelegatedScope:     w.DelegatedScope,
		IssuedAt:           time.Unix(w.IssuedAt, 0).UTC(),
		ExpiresAt:          time.Unix(w.ExpiresAt, 0).UTC(),
		Signature:          w.Signature,
	}, nil
}
