package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// ExportKeySize はエクスポート鍵のサイズ（AES-256）。
	ExportKeySize = 32
	// NonceSize はGCMのノンスサイズ（96ビット）。
	NonceSize = 12
	// TagSize はGCMの認証タグサイズ（128ビット）。
	TagSize = 16
)

// GenerateExportKey は使い捨てのエクスポート鍵を生成する。
func GenerateExportKey() ([]byte, error) {
	key := make([]byte, ExportKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating export key: %w", err)
	}
	return key, nil
}

// SealExport は平文をAES-256-GCMで暗号化し、ノンス・暗号文・認証タグを
// 分離して返す。aadにはエクスポートIDとトークンIDを束ねて渡し、
// 暗号文が別のエクスポート記録に差し替えられることを防ぐ。
func SealExport(key, plaintext, aad []byte) (nonce, ciphertext, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	// GCMは認証タグを暗号文末尾に付加する。保存形式では分離して扱う。
	ciphertext = sealed[:len(sealed)-TagSize]
	tag = sealed[len(sealed)-TagSize:]
	return nonce, ciphertext, tag, nil
}

// OpenExport は暗号文を復号し認証タグを検証する。
// 鍵・ノンス・タグ・aadのいずれかが一致しない場合はエラーを返す。
func OpenExport(key, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize || len(tag) != TagSize {
		return nil, fmt.Errorf("invalid nonce or tag length")
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decryption and authentication failed: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != ExportKeySize {
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", ExportKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
