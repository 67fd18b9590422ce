package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go-insights/internal/config"
)

// SquareAdapter connects Square merchant accounts. Payments stream in by
// webhook; the token endpoint speaks JSON rather than form encoding.
type SquareAdapter struct {
	creds  config.ProviderCredentials
	client *http.Client

	authURL  string
	tokenURL string
	apiURL   string
}

func NewSquareAdapter(creds config.ProviderCredentials, client *http.Client) *SquareAdapter {
	return &SquareAdapter{
		creds:    creds,
		client:   client,
		authURL:  "https://connect.squareup.com/oauth2/authorize",
		tokenURL: "https://connect.squareup.com/oauth2/token",
		apiURL:   "https://connect.squareup.com/v2",
	}
}

func (s *SquareAdapter) Name() string            { return ProviderSquare }
func (s *SquareAdapter) SupportsPKCE() bool      { return false }
func (s *SquareAdapter) PushCapable() bool       { return true }
func (s *SquareAdapter) SignatureHeader() string { return "X-Square-Hmacsha256-Signature" }

func (s *SquareAdapter) BuildAuthorizeURL(state, codeChallenge string, extra map[string]string) string {
	q := url.Values{}
	q.Set("client_id", s.creds.ClientID)
	q.Set("response_type", "code")
	q.Set("scope", "PAYMENTS_READ ORDERS_READ MERCHANT_PROFILE_READ")
	q.Set("state", state)
	return s.authURL + "?" + q.Encode()
}

// squareTokenResponse carries Square's RFC3339 expires_at instead of expires_in
type squareTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	MerchantID   string `json:"merchant_id"`
}

func (s *SquareAdapter) exchangeJSON(ctx context.Context, grantType, codeOrToken string) (*squareTokenResponse, int, []byte, error) {
	payload := map[string]string{
		"client_id":     s.creds.ClientID,
		"client_secret": s.creds.ClientSecret,
		"grant_type":    grantType,
	}
	if grantType == "authorization_code" {
		payload["code"] = codeOrToken
		payload["redirect_uri"] = s.creds.RedirectURI
	} else {
		payload["refresh_token"] = codeOrToken
	}

	status, body, err := postJSON(ctx, s.client, s.tokenURL, payload, nil)
	if err != nil {
		return nil, status, body, err
	}
	if status/100 != 2 {
		return nil, status, body, nil
	}

	var tr squareTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, status, body, err
	}
	return &tr, status, body, nil
}

func (s *SquareAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string, extra map[string]string) (*TokenSet, error) {
	tr, status, body, err := s.exchangeJSON(ctx, "authorization_code", code)
	if err != nil {
		return nil, &TokenExchangeError{Provider: s.Name(), StatusCode: status, Body: errBody(body, err)}
	}
	if tr == nil {
		return nil, &TokenExchangeError{Provider: s.Name(), StatusCode: status, Body: string(body)}
	}
	if tr.MerchantID == "" {
		return nil, &TerminalConnectionError{Provider: s.Name(), Reason: "token response has no merchant_id"}
	}

	return &TokenSet{
		AccessToken:       tr.AccessToken,
		RefreshToken:      tr.RefreshToken,
		ExpiresAt:         parseRFC3339(tr.ExpiresAt),
		ProviderAccountID: tr.MerchantID,
		AccountLabel:      tr.MerchantID,
	}, nil
}

func (s *SquareAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	tr, status, body, err := s.exchangeJSON(ctx, "refresh_token", refreshToken)
	if err != nil {
		return nil, classifyRefresh(s.Name(), status, body, err)
	}
	if tr == nil {
		return nil, classifyRefresh(s.Name(), status, body, nil)
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}

	return &TokenSet{
		AccessToken:       tr.AccessToken,
		RefreshToken:      tr.RefreshToken,
		ExpiresAt:         parseRFC3339(tr.ExpiresAt),
		ProviderAccountID: tr.MerchantID,
	}, nil
}

func (s *SquareAdapter) VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}
	return secureCompare(signatureHeader, hmacSHA256Base64(secret, rawBody))
}

func (s *SquareAdapter) ParseWebhookPayload(rawBody []byte) ([]CanonicalEvent, error) {
	var evt struct {
		EventID string `json:"event_id"`
		Type    string `json:"type"`
		Data    struct {
			ID     string                 `json:"id"`
			Object map[string]interface{} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return nil, fmt.Errorf("unparseable square payload: %w", err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("square event has no type")
	}

	attrs := map[string]interface{}{}
	dataType := evt.Type
	if payment, ok := evt.Data.Object["payment"].(map[string]interface{}); ok {
		dataType = "payment"
		if amt, ok := payment["amount_money"].(map[string]interface{}); ok {
			if cents, ok := toFloat(amt["amount"]); ok {
				attrs["amount"] = cents / 100
			}
			if cur, ok := amt["currency"]; ok {
				attrs["currency"] = cur
			}
		}
		if v, ok := payment["status"]; ok {
			attrs["status"] = v
		}
	} else {
		attrs = evt.Data.Object
	}
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	attrs["square_event"] = evt.Type

	return []CanonicalEvent{{
		EventID:    evt.EventID,
		DataType:   dataType,
		EntityID:   evt.Data.ID,
		Attributes: attrs,
	}}, nil
}

// FetchRows is available as a backstop even though Square normally pushes
func (s *SquareAdapter) FetchRows(ctx context.Context, ts *TokenSet, cfg map[string]string) ([]map[string]interface{}, error) {
	var resp struct {
		Payments []map[string]interface{} `json:"payments"`
	}
	if err := getJSON(ctx, s.client, s.apiURL+"/payments", ts.AccessToken, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Payments, nil
}

func parseRFC3339(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

func errBody(body []byte, err error) string {
	if err != nil {
		return err.Error()
	}
	return string(body)
}
