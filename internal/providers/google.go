package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go-insights/internal/config"
)

// GoogleSheetsAdapter connects user spreadsheets as pull data sources
type GoogleSheetsAdapter struct {
	creds  config.ProviderCredentials
	client *http.Client

	authURL     string
	tokenURL    string
	userinfoURL string
	sheetsURL   string
}

func NewGoogleSheetsAdapter(creds config.ProviderCredentials, client *http.Client) *GoogleSheetsAdapter {
	return &GoogleSheetsAdapter{
		creds:       creds,
		client:      client,
		authURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:    "https://oauth2.googleapis.com/token",
		userinfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		sheetsURL:   "https://sheets.googleapis.com/v4/spreadsheets",
	}
}

func (g *GoogleSheetsAdapter) Name() string            { return ProviderGoogleSheets }
func (g *GoogleSheetsAdapter) SupportsPKCE() bool      { return true }
func (g *GoogleSheetsAdapter) PushCapable() bool       { return false }
func (g *GoogleSheetsAdapter) SignatureHeader() string { return "" }

func (g *GoogleSheetsAdapter) BuildAuthorizeURL(state, codeChallenge string, extra map[string]string) string {
	q := url.Values{}
	q.Set("client_id", g.creds.ClientID)
	q.Set("redirect_uri", g.creds.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "https://www.googleapis.com/auth/spreadsheets.readonly https://www.googleapis.com/auth/userinfo.email")
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	q.Set("state", state)
	if codeChallenge != "" {
		q.Set("code_challenge", codeChallenge)
		q.Set("code_challenge_method", "S256")
	}
	return g.authURL + "?" + q.Encode()
}

func (g *GoogleSheetsAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string, extra map[string]string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", g.creds.ClientID)
	form.Set("client_secret", g.creds.ClientSecret)
	form.Set("redirect_uri", g.creds.RedirectURI)
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}

	tr, err := exchangeForm(ctx, g.client, g.Name(), g.tokenURL, form, nil)
	if err != nil {
		return nil, err
	}

	ts := &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    tr.expiry(),
		Scopes:       tr.scopes(),
	}

	// The token endpoint never carries the account identity; resolve it
	// through the userinfo endpoint.
	var info struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := getJSON(ctx, g.client, g.userinfoURL, ts.AccessToken, &info, nil); err != nil {
		return nil, fmt.Errorf("google userinfo lookup failed: %w", err)
	}
	if info.ID == "" {
		return nil, &TerminalConnectionError{Provider: g.Name(), Reason: "userinfo response has no account id"}
	}

	ts.ProviderAccountID = info.ID
	ts.AccountLabel = info.Email
	return ts, nil
}

func (g *GoogleSheetsAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", g.creds.ClientID)
	form.Set("client_secret", g.creds.ClientSecret)

	tr, err := refreshForm(ctx, g.client, g.Name(), g.tokenURL, form, nil)
	if err != nil {
		return nil, err
	}

	// Google omits the refresh token on refresh responses; keep the old one
	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}

	return &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    tr.expiry(),
		Scopes:       tr.scopes(),
	}, nil
}

func (g *GoogleSheetsAdapter) VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool {
	return false // pull source, no webhooks
}

func (g *GoogleSheetsAdapter) ParseWebhookPayload(rawBody []byte) ([]CanonicalEvent, error) {
	return nil, fmt.Errorf("google_sheets does not deliver webhooks")
}

// FetchRows reads the configured sheet range and maps the header row onto
// every following row.
func (g *GoogleSheetsAdapter) FetchRows(ctx context.Context, ts *TokenSet, cfg map[string]string) ([]map[string]interface{}, error) {
	spreadsheetID := cfg["spreadsheet_id"]
	if spreadsheetID == "" {
		return nil, fmt.Errorf("data source has no spreadsheet_id configured")
	}
	readRange := cfg["range"]
	if readRange == "" {
		readRange = "A1:ZZ"
	}

	var resp struct {
		Values [][]interface{} `json:"values"`
	}
	endpoint := fmt.Sprintf("%s/%s/values/%s", g.sheetsURL, url.PathEscape(spreadsheetID), url.PathEscape(readRange))
	if err := getJSON(ctx, g.client, endpoint, ts.AccessToken, &resp, nil); err != nil {
		return nil, err
	}

	if len(resp.Values) < 2 {
		return nil, nil
	}

	headers := make([]string, len(resp.Values[0]))
	for i, h := range resp.Values[0] {
		headers[i] = fmt.Sprintf("%v", h)
	}

	rows := make([]map[string]interface{}, 0, len(resp.Values)-1)
	for _, raw := range resp.Values[1:] {
		row := make(map[string]interface{}, len(headers))
		for i, cell := range raw {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			row[headers[i]] = cell
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
