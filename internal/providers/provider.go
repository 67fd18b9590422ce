package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Provider name constants, used as the connection/provider enum
const (
	ProviderGoogleSheets = "google_sheets"
	ProviderQuickBooks   = "quickbooks"
	ProviderLightspeed   = "lightspeed"
	ProviderStripe       = "stripe"
	ProviderSquare       = "square"
	ProviderPayPal       = "paypal"
	ProviderShopify      = "shopify"
)

// TokenSet is the uniform result of a code exchange or refresh
type TokenSet struct {
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time // nil = non-expiring (e.g. Stripe Connect)
	ProviderAccountID string
	AccountLabel      string            // human readable, email or store name
	Scopes            []string
	Extra             map[string]string // provider specifics: realmId, shop domain
}

// CanonicalEvent is the provider-agnostic shape a webhook payload maps into
type CanonicalEvent struct {
	EventID    string
	DataType   string
	EntityID   string
	Attributes map[string]interface{}
}

// Adapter is the per-provider capability surface. One implementation per
// provider; everything above this interface is provider-agnostic.
type Adapter interface {
	Name() string
	SupportsPKCE() bool
	// PushCapable reports whether the provider delivers updates via webhook.
	// Pull-only providers rely exclusively on the sync scheduler.
	PushCapable() bool
	SignatureHeader() string

	// BuildAuthorizeURL embeds client id, redirect URI, scopes and the PKCE
	// challenge when supported. extra carries provider params such as the
	// Shopify shop domain.
	BuildAuthorizeURL(state, codeChallenge string, extra map[string]string) string

	// ExchangeCode trades an authorization code for tokens. Never retried:
	// codes are single-use. extra carries callback query params (realmId, shop).
	ExchangeCode(ctx context.Context, code, codeVerifier string, extra map[string]string) (*TokenSet, error)

	// Refresh trades a refresh token for a new token set. Failures come back
	// as *RefreshError so callers can split terminal from transient.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// VerifyWebhookSignature checks an inbound payload against the per-source
	// secret. Implementations compare in constant time.
	VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool

	// ParseWebhookPayload maps the provider event shape into canonical events
	ParseWebhookPayload(rawBody []byte) ([]CanonicalEvent, error)

	// FetchRows pulls the current dataset for scheduled sync. config carries
	// source settings such as the spreadsheet id.
	FetchRows(ctx context.Context, ts *TokenSet, config map[string]string) ([]map[string]interface{}, error)
}

// tokenResponse covers the common OAuth token endpoint fields plus the
// provider-specific account identifiers some endpoints include
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	StripeUserID string `json:"stripe_user_id"`
	MerchantID   string `json:"merchant_id"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func (tr *tokenResponse) expiry() *time.Time {
	if tr.ExpiresIn <= 0 {
		return nil
	}
	t := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return &t
}

func (tr *tokenResponse) scopes() []string {
	if tr.Scope == "" {
		return nil
	}
	return strings.Fields(tr.Scope)
}

// postForm posts url-encoded values and returns the status plus raw body
func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, header http.Header) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// postJSON posts a JSON document and returns the status plus raw body
func postJSON(ctx context.Context, client *http.Client, endpoint string, payload interface{}, header http.Header) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(raw)))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// getJSON performs an authenticated GET and decodes the JSON response into out
func getJSON(ctx context.Context, client *http.Client, endpoint, accessToken string, out interface{}, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.Header.Set("Accept", "application/json")
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return json.Unmarshal(body, out)
}

func basicAuthHeader(clientID, clientSecret string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(clientID+":"+clientSecret)))
	return h
}

func hmacSHA256Hex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacSHA256Base64(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// secureCompare does constant-time string comparison for signatures
func secureCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
