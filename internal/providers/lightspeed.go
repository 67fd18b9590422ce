package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go-insights/internal/config"
)

// LightspeedAdapter connects Lightspeed Retail accounts. Both pull sync and
// push webhooks are supported; the webhook signs the raw body with a hex
// HMAC under a custom header.
type LightspeedAdapter struct {
	creds  config.ProviderCredentials
	client *http.Client

	authURL  string
	tokenURL string
	apiURL   string
}

func NewLightspeedAdapter(creds config.ProviderCredentials, client *http.Client) *LightspeedAdapter {
	return &LightspeedAdapter{
		creds:    creds,
		client:   client,
		authURL:  "https://cloud.lightspeedapp.com/oauth/authorize.php",
		tokenURL: "https://cloud.lightspeedapp.com/oauth/access_token.php",
		apiURL:   "https://api.lightspeedapp.com/API",
	}
}

func (l *LightspeedAdapter) Name() string            { return ProviderLightspeed }
func (l *LightspeedAdapter) SupportsPKCE() bool      { return false }
func (l *LightspeedAdapter) PushCapable() bool       { return true }
func (l *LightspeedAdapter) SignatureHeader() string { return "X-Lightspeed-Signature" }

func (l *LightspeedAdapter) BuildAuthorizeURL(state, codeChallenge string, extra map[string]string) string {
	q := url.Values{}
	q.Set("client_id", l.creds.ClientID)
	q.Set("response_type", "code")
	q.Set("scope", "employee:all")
	q.Set("state", state)
	return l.authURL + "?" + q.Encode()
}

func (l *LightspeedAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string, extra map[string]string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", l.creds.ClientID)
	form.Set("client_secret", l.creds.ClientSecret)

	tr, err := exchangeForm(ctx, l.client, l.Name(), l.tokenURL, form, nil)
	if err != nil {
		return nil, err
	}

	ts := &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    tr.expiry(),
		Scopes:       tr.scopes(),
	}

	// The token endpoint omits the account id; resolve it through the
	// Account endpoint as the fallback step.
	var acct struct {
		Account struct {
			AccountID string `json:"accountID"`
			Name      string `json:"name"`
		} `json:"Account"`
	}
	if err := getJSON(ctx, l.client, l.apiURL+"/Account.json", ts.AccessToken, &acct, nil); err != nil {
		return nil, fmt.Errorf("lightspeed account lookup failed: %w", err)
	}
	if acct.Account.AccountID == "" {
		return nil, &TerminalConnectionError{Provider: l.Name(), Reason: "account lookup returned no accountID"}
	}

	ts.ProviderAccountID = acct.Account.AccountID
	ts.AccountLabel = acct.Account.Name
	ts.Extra = map[string]string{"account_id": acct.Account.AccountID}
	return ts, nil
}

func (l *LightspeedAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", l.creds.ClientID)
	form.Set("client_secret", l.creds.ClientSecret)

	tr, err := refreshForm(ctx, l.client, l.Name(), l.tokenURL, form, nil)
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

func (l *LightspeedAdapter) VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}
	return secureCompare(signatureHeader, hmacSHA256Hex(secret, rawBody))
}

// ParseWebhookPayload maps Lightspeed object notifications to canonical
// events. The payload nests the changed object under "payload".
func (l *LightspeedAdapter) ParseWebhookPayload(rawBody []byte) ([]CanonicalEvent, error) {
	var evt struct {
		EventID string                 `json:"eventID"`
		Action  string                 `json:"action"`
		Type    string                 `json:"type"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return nil, fmt.Errorf("unparseable lightspeed payload: %w", err)
	}

	dataType := evt.Type
	if dataType == "" {
		dataType = "sale"
	}

	entityID := ""
	if evt.Payload != nil {
		for _, key := range []string{"saleID", "itemID", "customerID", "id"} {
			if v, ok := evt.Payload[key]; ok {
				entityID = fmt.Sprintf("%v", v)
				break
			}
		}
	}

	attrs := evt.Payload
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	attrs["action"] = evt.Action

	return []CanonicalEvent{{
		EventID:    evt.EventID,
		DataType:   dataType,
		EntityID:   entityID,
		Attributes: attrs,
	}}, nil
}

// FetchRows pulls the account's sales
func (l *LightspeedAdapter) FetchRows(ctx context.Context, ts *TokenSet, cfg map[string]string) ([]map[string]interface{}, error) {
	accountID := ts.Extra["account_id"]
	if accountID == "" {
		accountID = ts.ProviderAccountID
	}
	if accountID == "" {
		return nil, fmt.Errorf("connection has no lightspeed account id")
	}

	var resp struct {
		Sale []map[string]interface{} `json:"Sale"`
	}
	endpoint := fmt.Sprintf("%s/Account/%s/Sale.json", l.apiURL, accountID)
	if err := getJSON(ctx, l.client, endpoint, ts.AccessToken, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Sale, nil
}
