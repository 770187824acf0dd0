// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port        string
	DatabaseURL string

	// 署名鍵。SigningKeyEncryptedが設定されている場合はCloud KMSで
	// 復号してから使用する。SigningKeyは平文（Base64）のローカル開発用。
	SigningKey          string
	SigningKeyEncrypted string
	KMSKeyName          string
	GoogleCloudProject  string

	TokenTTL         time.Duration
	DecisionWindow   time.Duration
	ExportTTL        time.Duration
	RequestRetention time.Duration
	GCInterval       time.Duration

	LogLevel string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SigningKey:          os.Getenv("SIGNING_KEY"),
		SigningKeyEncrypted: os.Getenv("SIGNING_KEY_ENCRYPTED"),
		KMSKeyName:          os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		TokenTTL:            getDurationEnv("TOKEN_TTL", 24*time.Hour),
		DecisionWindow:      getDurationEnv("DECISION_WINDOW", 1*time.Hour),
		ExportTTL:           getDurationEnv("EXPORT_TTL", 1*time.Hour),
		RequestRetention:    getDurationEnv("REQUEST_RETENTION", 30*24*time.Hour),
		GCInterval:          getDurationEnv("GC_INTERVAL", 0),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		OtelEnabled:         getBoolEnv("OTEL_ENABLED", false),
		OtelEndpoint:        getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:     getEnv("OTEL_SERVICE_NAME", "consent-vault-service"),
		OtelSamplingRate:    getFloatEnv("OTEL_SAMPLING_RATE", 0.1),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
