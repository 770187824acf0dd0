package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"consent-vault-service/internal/domain"
	"consent-vault-service/internal/middleware"
	"consent-vault-service/internal/usecase"
	"consent-vault-service/pkg/httputil"
)

// ExportHandler はゼロ知識エクスポートのHTTPハンドラを提供する。
type ExportHandler struct {
	service *usecase.ExportService
}

// NewExportHandler は新しいExportHandlerを生成する。
func NewExportHandler(service *usecase.ExportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// PrepareExportBody はエクスポート準備のリクエスト形式。
type PrepareExportBody struct {
	Token  string `json:"token"`
	Domain string `json:"domain"`
}

// PrepareExportResponse はエクスポート準備のレスポンス形式。
// ExportKeyはこのレスポンスでのみ返却され、サーバーには保存されない。
type PrepareExportResponse struct {
	ExportID  string `json:"export_id"`
	Scope     string `json:"scope"`
	ExportKey string `json:"export_key"`
	ExpiresAt string `json:"expires_at"`
}

// ExportResponse はエクスポート記録のレスポンス形式。
type ExportResponse struct {
	ExportID   string `json:"export_id"`
	SubjectID  string `json:"subject_id"`
	Scope      string `json:"scope"`
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	AuthTag    string `json:"auth_tag"`
	ExpiresAt  string `json:"expires_at"`
}

// PrepareExport は指定ドメインのデータを使い捨て鍵で暗号化し、
// エクスポート記録と一度限りのエクスポート鍵を返す。
func (h *ExportHandler) PrepareExport(w http.ResponseWriter, r *http.Request) {
	var body PrepareExportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	tokenBytes, err := base64.StdEncoding.DecodeString(body.Token)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "MALFORMED_TOKEN", "token must be base64 encoded")
		return
	}

	export, exportKey, err := h.service.Prepare(r.Context(), tokenBytes, body.Domain)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "PREPARE_EXPORT", "", body.Domain, "FAILED")
		writeTokenError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "PREPARE_EXPORT", export.SubjectID, export.Scope, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, PrepareExportResponse{
		ExportID:  export.ExportID,
		Scope:     export.Scope,
		ExportKey: base64.StdEncoding.EncodeToString(exportKey),
		ExpiresAt: export.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// bearerToken はAuthorizationヘッダからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimPrefix(auth, prefix), true
}

// RetrieveExport はエクスポート記録の暗号文を返す。
// 提示されたトークンが作成時のスコープを満たさない場合は403を返す。
func (h *ExportHandler) RetrieveExport(w http.ResponseWriter, r *http.Request) {
	exportID := chi.URLParam(r, "export_id")

	raw, ok := bearerToken(r)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "MISSING_TOKEN", "Authorization: Bearer token is required")
		return
	}
	tokenBytes, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "MALFORMED_TOKEN", "token must be base64 encoded")
		return
	}

	export, err := h.service.Retrieve(r.Context(), exportID, tokenBytes)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrExportNotFound):
			httputil.Error(w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export not found")
		case errors.Is(err, domain.ErrExportExpired):
			httputil.Error(w, http.StatusGone, "EXPORT_EXPIRED", "export has expired")
		case errors.Is(err, domain.ErrExportUnauthorized):
			middleware.WriteAuditLog(r.Context(), "RETRIEVE_EXPORT", "", "", "FAILED")
			httputil.Error(w, http.StatusForbidden, "EXPORT_UNAUTHORIZED", "token does not authorize this export")
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "RETRIEVE_EXPORT", export.SubjectID, export.Scope, "SUCCESS")
	httputil.JSON(w, http.StatusOK, ExportResponse{
		ExportID:   export.ExportID,
		SubjectID:  export.SubjectID,
		Scope:      export.Scope,
		Ciphertext: base64.StdEncoding.EncodeToString(export.Ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(export.Nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(export.AuthTag),
		ExpiresAt:  export.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
