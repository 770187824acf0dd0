package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"consent-vault-service/config"
)

// NewRouter はルーターを生成する。
func NewRouter(cfg *config.Config, consent *ConsentHandler, token *TokenHandler, link *TrustLinkHandler, export *ExportHandler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	// ルート定義
	r.Route("/v1", func(r chi.Router) {
		r.Post("/subjects/{subject_id}/consents", consent.RequestConsent)

		r.Route("/consents/{request_id}", func(r chi.Router) {
			r.Get("/", consent.GetConsentStatus)
			r.Post("/approve", consent.ApproveConsent)
			r.Post("/deny", consent.DenyConsent)
		})

		r.Post("/tokens/validate", token.ValidateToken)
		r.Post("/tokens/revoke", token.RevokeToken)

		r.Post("/trustlinks", link.CreateTrustLink)
		r.Post("/trustlinks/verify", link.VerifyTrustLink)

		r.Post("/exports", export.PrepareExport)
		r.Get("/exports/{export_id}", export.RetrieveExport)
	})

	if cfg.OtelEnabled {
		return otelhttp.NewHandler(r, "consent-vault-service")
	}
	return r
}
