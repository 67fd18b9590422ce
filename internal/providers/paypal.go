package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go-insights/internal/config"
)

// PayPalAdapter connects PayPal accounts via "Connect with PayPal". PayPal
// webhook verification is certificate based rather than shared-secret HMAC,
// so transactions are synced by polling instead.
type PayPalAdapter struct {
	creds  config.ProviderCredentials
	client *http.Client

	authURL     string
	tokenURL    string
	userinfoURL string
	reportURL   string
}

func NewPayPalAdapter(creds config.ProviderCredentials, client *http.Client) *PayPalAdapter {
	return &PayPalAdapter{
		creds:       creds,
		client:      client,
		authURL:     "https://www.paypal.com/signin/authorize",
		tokenURL:    "https://api-m.paypal.com/v1/oauth2/token",
		userinfoURL: "https://api-m.paypal.com/v1/identity/oauth2/userinfo?schema=paypalv1.1",
		reportURL:   "https://api-m.paypal.com/v1/reporting/transactions",
	}
}

func (p *PayPalAdapter) Name() string            { return ProviderPayPal }
func (p *PayPalAdapter) SupportsPKCE() bool      { return false }
func (p *PayPalAdapter) PushCapable() bool       { return false }
func (p *PayPalAdapter) SignatureHeader() string { return "" }

func (p *PayPalAdapter) BuildAuthorizeURL(state, codeChallenge string, extra map[string]string) string {
	q := url.Values{}
	q.Set("client_id", p.creds.ClientID)
	q.Set("redirect_uri", p.creds.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid email https://uri.paypal.com/services/paypalattributes")
	q.Set("state", state)
	return p.authURL + "?" + q.Encode()
}

func (p *PayPalAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string, extra map[string]string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)

	tr, err := exchangeForm(ctx, p.client, p.Name(), p.tokenURL, form, basicAuthHeader(p.creds.ClientID, p.creds.ClientSecret))
	if err != nil {
		return nil, err
	}

	ts := &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    tr.expiry(),
		Scopes:       tr.scopes(),
	}

	// Account identity needs the userinfo fallback call
	var info struct {
		PayerID string `json:"payer_id"`
		Emails  []struct {
			Value   string `json:"value"`
			Primary bool   `json:"primary"`
		} `json:"emails"`
	}
	if err := getJSON(ctx, p.client, p.userinfoURL, ts.AccessToken, &info, nil); err != nil {
		return nil, fmt.Errorf("paypal userinfo lookup failed: %w", err)
	}
	if info.PayerID == "" {
		return nil, &TerminalConnectionError{Provider: p.Name(), Reason: "userinfo response has no payer_id"}
	}

	ts.ProviderAccountID = info.PayerID
	ts.AccountLabel = info.PayerID
	for _, e := range info.Emails {
		if e.Primary {
			ts.AccountLabel = e.Value
			break
		}
	}
	return ts, nil
}

func (p *PayPalAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	tr, err := refreshForm(ctx, p.client, p.Name(), p.tokenURL, form, basicAuthHeader(p.creds.ClientID, p.creds.ClientSecret))
	if err != nil {
		return nil, err
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}

	return &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    tr.expiry(),
	}, nil
}

func (p *PayPalAdapter) VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool {
	return false // pull source
}

func (p *PayPalAdapter) ParseWebhookPayload(rawBody []byte) ([]CanonicalEvent, error) {
	return nil, fmt.Errorf("paypal is synced by polling")
}

// FetchRows pulls recent transactions from the reporting API
func (p *PayPalAdapter) FetchRows(ctx context.Context, ts *TokenSet, cfg map[string]string) ([]map[string]interface{}, error) {
	var resp struct {
		TransactionDetails []map[string]interface{} `json:"transaction_details"`
	}
	if err := getJSON(ctx, p.client, p.reportURL, ts.AccessToken, &resp, nil); err != nil {
		return nil, err
	}
	return resp.TransactionDetails, nil
}
