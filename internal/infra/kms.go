package infra

import (
	"context"
	"encoding/base64"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"

	"consent-vault-service/config"
)

// KMSClient はCloud KMSクライアントをラップする。
type KMSClient struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSClient は設定のKMSKeyNameを使ってKMSClientを生成する。
func NewKMSClient(ctx context.Context, keyName string) (*KMSClient, error) {
	if keyName == "" {
		return nil, fmt.Errorf("KMS_KEY_NAME is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	return &KMSClient{
		client:  client,
		keyName: keyName,
	}, nil
}

// Decrypt は暗号文をCloud KMSで復号する。
func (c *KMSClient) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	req := &kmspb.DecryptRequest{
		Name:       c.keyName,
		Ciphertext: ciphertext,
	}
	resp, err := c.client.Decrypt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return resp.Plaintext, nil
}

// Close はKMSクライアントを閉じる。
func (c *KMSClient) Close() error {
	return c.client.Close()
}

// LoadSigningKey は設定から署名鍵を取得する。
// SigningKeyEncryptedが設定されている場合はCloud KMSで復号し、
// そうでなければSigningKey（Base64）をデコードして返す。
func LoadSigningKey(ctx context.Context, cfg *config.Config) ([]byte, error) {
	if cfg.SigningKeyEncrypted != "" {
		ciphertext, err := base64.StdEncoding.DecodeString(cfg.SigningKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("decoding SIGNING_KEY_ENCRYPTED: %w", err)
		}
		client, err := NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			return nil, err
		}
		defer client.Close()

		key, err := client.Decrypt(ctx, ciphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypting signing key: %w", err)
		}
		return key, nil
	}

	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("SIGNING_KEY or SIGNING_KEY_ENCRYPTED is required")
	}
	key, err := base64.StdEncoding.DecodeString(cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decoding SIGNING_KEY: %w", err)
	}
	return key, nil
}
