package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go-insights/internal/config"
)

// stripeSignatureTolerance bounds how stale a signed webhook timestamp may be
const stripeSignatureTolerance = 5 * time.Minute

// StripeAdapter connects Stripe accounts through Connect OAuth. Tokens are
// non-expiring; data arrives by webhook.
type StripeAdapter struct {
	creds  config.ProviderCredentials
	client *http.Client

	authURL  string
	tokenURL string

	// now is swappable for signature-tolerance tests
	now func() time.Time
}

func NewStripeAdapter(creds config.ProviderCredentials, client *http.Client) *StripeAdapter {
	return &StripeAdapter{
		creds:    creds,
		client:   client,
		authURL:  "https://connect.stripe.com/oauth/authorize",
		tokenURL: "https://connect.stripe.com/oauth/token",
		now:      time.Now,
	}
}

func (s *StripeAdapter) Name() string            { return ProviderStripe }
func (s *StripeAdapter) SupportsPKCE() bool      { return false }
func (s *StripeAdapter) PushCapable() bool       { return true }
func (s *StripeAdapter) SignatureHeader() string { return "Stripe-Signature" }

func (s *StripeAdapter) BuildAuthorizeURL(state, codeChallenge string, extra map[string]string) string {
	q := url.Values{}
	q.Set("client_id", s.creds.ClientID)
	q.Set("redirect_uri", s.creds.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "read_only")
	q.Set("state", state)
	return s.authURL + "?" + q.Encode()
}

func (s *StripeAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string, extra map[string]string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_secret", s.creds.ClientSecret)

	tr, err := exchangeForm(ctx, s.client, s.Name(), s.tokenURL, form, nil)
	if err != nil {
		return nil, err
	}
	if tr.StripeUserID == "" {
		return nil, &TerminalConnectionError{Provider: s.Name(), Reason: "token response has no stripe_user_id"}
	}

	return &TokenSet{
		AccessToken:       tr.AccessToken,
		RefreshToken:      tr.RefreshToken,
		ExpiresAt:         nil, // Stripe Connect access tokens do not expire
		ProviderAccountID: tr.StripeUserID,
		AccountLabel:      tr.StripeUserID,
		Scopes:            tr.scopes(),
	}, nil
}

func (s *StripeAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_secret", s.creds.ClientSecret)

	tr, err := refreshForm(ctx, s.client, s.Name(), s.tokenURL, form, nil)
	if err != nil {
		return nil, err
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}

	return &TokenSet{
		AccessToken:       tr.AccessToken,
		RefreshToken:      tr.RefreshToken,
		ProviderAccountID: tr.StripeUserID,
	}, nil
}

// VerifyWebhookSignature checks the "t=...,v1=..." header format: v1 is the
// hex HMAC of "<t>.<body>" and t must be within tolerance.
func (s *StripeAdapter) VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}

	var timestamp string
	var candidates []string
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return false
	}

	expected := hmacSHA256Hex(secret, []byte(timestamp+"."+string(rawBody)))
	for _, c := range candidates {
		if secureCompare(c, expected) {
			return true
		}
	}
	return false
}

// ParseWebhookPayload maps Stripe events to canonical rows. Charges become
// "payment" rows with the amount converted from cents to currency units.
func (s *StripeAdapter) ParseWebhookPayload(rawBody []byte) ([]CanonicalEvent, error) {
	var evt struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object map[string]interface{} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return nil, fmt.Errorf("unparseable stripe payload: %w", err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("stripe event has no type")
	}

	obj := evt.Data.Object
	if obj == nil {
		obj = map[string]interface{}{}
	}

	entityID, _ := obj["id"].(string)
	attrs := map[string]interface{}{}

	var dataType string
	switch {
	case strings.HasPrefix(evt.Type, "charge."), strings.HasPrefix(evt.Type, "payment_intent."):
		dataType = "payment"
		if cents, ok := toFloat(obj["amount"]); ok {
			attrs["amount"] = math.Round(cents) / 100
		}
		if v, ok := obj["currency"]; ok {
			attrs["currency"] = v
		}
		if v, ok := obj["status"]; ok {
			attrs["status"] = v
		}
		if v, ok := obj["description"]; ok && v != nil {
			attrs["description"] = v
		}
	case strings.HasPrefix(evt.Type, "invoice."):
		dataType = "invoice"
		if cents, ok := toFloat(obj["amount_paid"]); ok {
			attrs["amount"] = math.Round(cents) / 100
		}
		if v, ok := obj["currency"]; ok {
			attrs["currency"] = v
		}
		if v, ok := obj["status"]; ok {
			attrs["status"] = v
		}
	case strings.HasPrefix(evt.Type, "customer."):
		dataType = "customer"
		if v, ok := obj["email"]; ok {
			attrs["email"] = v
		}
		if v, ok := obj["name"]; ok && v != nil {
			attrs["name"] = v
		}
	default:
		dataType = evt.Type
		attrs = obj
	}

	attrs["stripe_event"] = evt.Type

	return []CanonicalEvent{{
		EventID:    evt.ID,
		DataType:   dataType,
		EntityID:   entityID,
		Attributes: attrs,
	}}, nil
}

func (s *StripeAdapter) FetchRows(ctx context.Context, ts *TokenSet, cfg map[string]string) ([]map[string]interface{}, error) {
	return nil, fmt.Errorf("stripe is a push source, rows arrive by webhook")
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
