package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す。
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はスキーママイグレーションを表す。
// Versionはファイル名先頭の番号（例: "001"）、Nameは残りの部分。
type Migration struct {
	Version   string
	Name      string
	AppliedAt *time.Time
	FilePath  string
	Status    MigrationStatus
}
