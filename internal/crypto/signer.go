// Package crypto は署名・暗号化のプリミティブを提供する。
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// SigningKeySize は署名鍵の最小サイズ（HMAC-SHA256）。
const SigningKeySize = 32

// Signer は正規化されたトークンバイト列に対する
// HMAC-SHA256の署名・検証を提供する。鍵とバイト列の純粋関数であり、
// 副作用を持たない。
type Signer struct {
	key []byte
}

// NewSigner は新しいSignerを生成する。鍵は32バイト以上を要求する。
func NewSigner(key []byte) (*Signer, error) {
	if len(key) < SigningKeySize {
		return nil, fmt.Errorf("signing key too short: need at least %d bytes, got %d", SigningKeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}, nil
}

// GenerateSigningKey はローカル開発用の署名鍵を生成する。
func GenerateSigningKey() ([]byte, error) {
	key := make([]byte, SigningKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return key, nil
}

// Sign はバイト列の署名を計算する。
func (s *Signer) Sign(data []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify は署名を検証する。不正な入力や切り詰められた署名に対しても
// パニックせず、常にfalseを返す（フェイルクローズ）。
func (s *Signer) Verify(data, signature []byte) bool {
	if len(signature) != sha256.Size {
		return false
	}
	return hmac.Equal(s.Sign(data), signature)
}
