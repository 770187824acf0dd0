// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "consentctl",
		Short: "Consent Vault Service CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("CONSENTCTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set CONSENTCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(denyCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(delegateCmd())
	rootCmd.AddCommand(verifyLinkCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(retrieveCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("consentctl version %s\n", version)
		},
	}
}

// callAPI はAPIを呼び出し、レスポンスボディを返す。
// wantStatus以外のステータスはエラーレスポンスとして扱う。
func callAPI(method, url string, payload interface{}, wantStatus int) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required (or set CONSENTCTL_API_URL)")
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		// 同意リクエストは即時承認(201)と承認待ち(202)のどちらもありうる
		if wantStatus == http.StatusCreated && resp.StatusCode == http.StatusAccepted {
			return body, nil
		}
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

// requestCmd は同意リクエストの作成コマンド。
func requestCmd() *cobra.Command {
	var subjectID, requesterID, scope string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request consent for a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/v1/subjects/%s/consents", apiURL, subjectID)
			payload := map[string]string{
				"requester_id":    requesterID,
				"requested_scope": scope,
			}
			body, err := callAPI(http.MethodPost, url, payload, http.StatusCreated)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result map[string]interface{}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Request %v is %v\n", result["request_id"], result["status"])
			if token, ok := result["token"].(string); ok && token != "" {
				fmt.Println(token)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&subjectID, "subject", "", "Subject ID (required)")
	cmd.Flags().StringVar(&requesterID, "requester", "", "Requester agent ID (required)")
	cmd.Flags().StringVar(&scope, "scope", "", "Requested scope (required)")
	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("requester")
	cmd.MarkFlagRequired("scope")
	return cmd
}

// statusCmd は同意リクエストの状態取得コマンド。
func statusCmd() *cobra.Command {
	var requestID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a consent request",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/v1/consents/%s", apiURL, requestID)
			body, err := callAPI(http.MethodGet, url, nil, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result map[string]interface{}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Request %v is %v\n", result["request_id"], result["status"])
			if token, ok := result["token"].(string); ok && token != "" {
				fmt.Println(token)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "Consent request ID (required)")
	cmd.MarkFlagRequired("request")
	return cmd
}

// decisionCmd は承認・拒否に共通の決定コマンドを生成する。
func decisionCmd(use, short, action string) *cobra.Command {
	var requestID string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/v1/consents/%s/%s", apiURL, requestID, action)
			body, err := callAPI(http.MethodPost, url, nil, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result map[string]interface{}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Request %v is %v\n", result["request_id"], result["status"])
			if token, ok := result["token"].(string); ok && token != "" {
				fmt.Println(token)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "Consent request ID (required)")
	cmd.MarkFlagRequired("request")
	return cmd
}

func approveCmd() *cobra.Command {
	return decisionCmd("approve", "Approve a pending consent request", "approve")
}

func denyCmd() *cobra.Command {
	return decisionCmd("deny", "Deny a pending consent request", "deny")
}

// validateCmd はトークン検証コマンド。
func validateCmd() *cobra.Command {
	var token, scope string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a consent token against a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/v1/tokens/validate", apiURL)
			payload := map[string]string{
				"token":          token,
				"expected_scope": scope,
			}
			body, err := callAPI(http.MethodPost, url, payload, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result map[string]interface{}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Token %v is valid for %v (subject: %v, holder: %v, expires: %v)\n",
				result["token_id"], result["scope"], result["subject_id"], result["holder_id"], result["expires_at"])
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Base64 wire form token (required)")
	cmd.Flags().StringVar(&scope, "scope", "", "Expected scope (required)")
	cmd.MarkFlagRequired("token")
	cmd.MarkFlagRequired("scope")
	return cmd
}

// revokeCmd はトークン失効コマンド。
func revokeCmd() *cobra.Command {
	var token, tokenID, subjectID, holderID, scope string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a consent token or a whole grant",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]string{}
			switch {
			case token != "":
				payload["token"] = token
			case tokenID != "":
				payload["token_id"] = tokenID
			case subjectID != "" && holderID != "" && scope != "":
				payload["subject_id"] = subjectID
				payload["holder_id"] = holderID
				payload["scope"] = scope
			default:
				return fmt.Errorf("--token, --token-id, or --subject/--holder/--scope is required")
			}

			url := fmt.Sprintf("%s/v1/tokens/revoke", apiURL)
			if _, err := callAPI(http.MethodPost, url, payload, http.StatusAccepted); err != nil {
				return err
			}

			if output == "json" {
				fmt.Println("{}")
			} else {
				fmt.Println("Revoked.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Base64 wire form token")
	cmd.Flags().StringVar(&tokenID, "token-id", "", "Token ID")
	cmd.Flags().StringVar(&subjectID, "subject", "", "Subject ID (for grant revocation)")
	cmd.Flags().StringVar(&holderID, "holder", "", "Holder agent ID (for grant revocation)")
	cmd.Flags().StringVar(&scope, "scope", "", "Scope (for grant revocation)")
	return cmd
}

// delegateCmd はTrustLink発行コマンド。
func delegateCmd() *cobra.Command {
	var token, targetID, scope string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "delegate",
		Short: "Create a trust link delegating scope to another agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/v1/trustlinks", apiURL)
			payload := map[string]interface{}{
				"authorizing_token": token,
				"target_agent_id":   targetID,
				"delegated_scope":   scope,
			}
			if ttl > 0 {
				payload["ttl_seconds"] = int64(ttl / time.Second)
			}
			body, err := callAPI(http.MethodPost, url, payload, http.StatusCreated)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result map[string]interface{}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Created trust link %v (%v -> %v, expires: %v)\n",
				result["link_id"], result["source_agent_id"], result["target_agent_id"], result["expires_at"])
			if link, ok := result["link"].(string); ok && link != "" {
				fmt.Println(link)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Base64 authorizing token (required)")
	cmd.Flags().StringVar(&targetID, "target", "", "Target agent ID (required)")
	cmd.Flags().StringVar(&scope, "scope", "", "Delegated scope (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Link lifetime (optional, clamped to token expiry)")
	cmd.MarkFlagRequired("token")
	cmd.MarkFlagRequired("target")
	cmd.MarkFlagRequired("scope")
	return cmd
}

// verifyLinkCmd はTrustLink検証コマンド。
func verifyLinkCmd() *cobra.Command {
	var link string
	cmd := &cobra.Command{
		Use:   "verify-link",
		Short: "Verify a trust link",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/v1/trustlinks/verify", apiURL)
			payload := map[string]string{"link": link}
			body, err := callAPI(http.MethodPost, url, payload, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result map[string]interface{}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Link %v is valid (%v -> %v, scope: %v, expires: %v)\n",
				result["link_id"], result["source_agent_id"], result["target_agent_id"],
				result["delegated_scope"], result["expires_at"])
			return nil
		},
	}
	cmd.Flags().StringVar(&link, "link", "", "Base64 wire form link (required)")
	cmd.MarkFlagRequired("link")
	return cmd
}

// exportCmd はエクスポート準備コマンド。
func exportCmd() *cobra.Command {
	var token, domain string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Prepare a zero-knowledge export of a data domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/v1/exports", apiURL)
			payload := map[string]string{
				"token":  token,
				"domain": domain,
			}
			body, err := callAPI(http.MethodPost, url, payload, http.StatusCreated)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result map[string]interface{}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Export %v prepared (expires: %v)\n", result["export_id"], result["expires_at"])
			fmt.Printf("Export key (shown once, not stored server side):\n%v\n", result["export_key"])
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Base64 consent token (required)")
	cmd.Flags().StringVar(&domain, "domain", "", "Data domain to export (required)")
	cmd.MarkFlagRequired("token")
	cmd.MarkFlagRequired("domain")
	return cmd
}

// retrieveCmd はエクスポート取得コマンド。
func retrieveCmd() *cobra.Command {
	var exportID, token string
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Retrieve a prepared export",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set CONSENTCTL_API_URL)")
			}

			url := fmt.Sprintf("%s/v1/exports/%s", apiURL, exportID)
			req, err := http.NewRequest(http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))

			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			// 復号は受領側の責務のため、暗号文一式をそのまま出力する
			fmt.Println(string(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&exportID, "export", "", "Export ID (required)")
	cmd.Flags().StringVar(&token, "token", "", "Base64 consent token (required)")
	cmd.MarkFlagRequired("export")
	cmd.MarkFlagRequired("token")
	return cmd
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
