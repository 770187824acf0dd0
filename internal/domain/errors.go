package domain

import "errors"

var (
	// ErrMalformedToken はトークンまたはTrustLinkのバイト列がデコードできない場合のエラー。
	// 攻撃者の入力とみなし、パース内部の詳細は外部に漏らさない。
	ErrMalformedToken = errors.New("malformed token")

	// ErrBadSignature は署名検証に失敗した場合のエラー。
	// 鍵違いと改ざんは区別せず常にこのエラーを返す。
	ErrBadSignature = errors.New("bad signature")

	// ErrTokenExpired はトークンが有効期限切れの場合のエラー。
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked はトークンが失効済みの場合のエラー。
	ErrTokenRevoked = errors.New("token revoked")

	// ErrScopeMismatch はトークンは有効だがスコープが不足している場合のエラー。
	ErrScopeMismatch = errors.New("scope mismatch")

	// ErrInvalidScope はスコープ文字列が文法に違反している場合のエラー。
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidTTL は有効期間の指定が不正な場合のエラー。
	ErrInvalidTTL = errors.New("invalid ttl")

	// ErrInvalidSubjectID はサブジェクトIDの形式が不正な場合のエラー。
	ErrInvalidSubjectID = errors.New("invalid subject ID")

	// ErrRequestNotFound は指定された同意リクエストが存在しない場合のエラー。
	ErrRequestNotFound = errors.New("consent request not found")

	// ErrRequestAlreadyDecided は同意リクエストが既に終端状態の場合のエラー。
	ErrRequestAlreadyDecided = errors.New("consent request already decided")

	// ErrRequestTimeout は同意リクエストが決定期限を超過した場合のエラー。
	ErrRequestTimeout = errors.New("consent request timed out")

	// ErrExportNotFound は指定されたエクスポートが存在しない場合のエラー。
	ErrExportNotFound = errors.New("export not found")

	// ErrExportExpired はエクスポートが保持期限切れの場合のエラー。
	ErrExportExpired = errors.New("export expired")

	// ErrExportUnauthorized は提示されたトークンがエクスポート取得時点で
	// 元の許可範囲を満たさなくなっている場合のエラー。
	ErrExportUnauthorized = errors.New("export unauthorized")

	// ErrInvalidMigrationFile はマイグレーションファイル名が不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")

	// ErrMigrationFailed はマイグレーションの適用に失敗した場合のエラー。
	ErrMigrationFailed = errors.New("migration failed")
)
