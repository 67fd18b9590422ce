package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go-insights/internal/config"
)

var shopDomainPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*\.myshopify\.com$`)

// ShopifyAdapter connects Shopify stores. The authorize and token endpoints
// live on the shop's own domain, so the shop parameter travels through the
// whole flow. Access tokens do not expire.
type ShopifyAdapter struct {
	creds  config.ProviderCredentials
	client *http.Client

	// scheme+host override for tests; empty means https://<shop>
	baseOverride string
}

func NewShopifyAdapter(creds config.ProviderCredentials, client *http.Client) *ShopifyAdapter {
	return &ShopifyAdapter{creds: creds, client: client}
}

func (s *ShopifyAdapter) Name() string            { return ProviderShopify }
func (s *ShopifyAdapter) SupportsPKCE() bool      { return false }
func (s *ShopifyAdapter) PushCapable() bool       { return true }
func (s *ShopifyAdapter) SignatureHeader() string { return "X-Shopify-Hmac-Sha256" }

func (s *ShopifyAdapter) shopBase(shop string) string {
	if s.baseOverride != "" {
		return s.baseOverride
	}
	return "https://" + shop
}

// ValidShopDomain reports whether the user-supplied store URL is usable.
// A bad store URL is a user error, not a provider failure.
func ValidShopDomain(shop string) bool {
	return shopDomainPattern.MatchString(shop)
}

func (s *ShopifyAdapter) BuildAuthorizeURL(state, codeChallenge string, extra map[string]string) string {
	shop := extra["shop"]
	q := url.Values{}
	q.Set("client_id", s.creds.ClientID)
	q.Set("redirect_uri", s.creds.RedirectURI)
	q.Set("scope", "read_orders,read_products,read_customers")
	q.Set("state", state)
	return s.shopBase(shop) + "/admin/oauth/authorize?" + q.Encode()
}

func (s *ShopifyAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string, extra map[string]string) (*TokenSet, error) {
	shop := extra["shop"]
	if shop == "" {
		return nil, &TerminalConnectionError{Provider: s.Name(), Reason: "callback did not include the shop domain"}
	}

	payload := map[string]string{
		"client_id":     s.creds.ClientID,
		"client_secret": s.creds.ClientSecret,
		"code":          code,
	}
	status, body, err := postJSON(ctx, s.client, s.shopBase(shop)+"/admin/oauth/access_token", payload, nil)
	if err != nil {
		return nil, &TokenExchangeError{Provider: s.Name(), Body: err.Error()}
	}
	if status/100 != 2 {
		return nil, &TokenExchangeError{Provider: s.Name(), StatusCode: status, Body: string(body)}
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	}
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, &TokenExchangeError{Provider: s.Name(), StatusCode: status, Body: "unparseable token response: " + string(body)}
	}

	return &TokenSet{
		AccessToken:       tr.AccessToken,
		ExpiresAt:         nil, // offline Shopify tokens do not expire
		ProviderAccountID: shop,
		AccountLabel:      strings.TrimSuffix(shop, ".myshopify.com"),
		Scopes:            strings.Split(tr.Scope, ","),
		Extra:             map[string]string{"shop": shop},
	}, nil
}

func (s *ShopifyAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	// Offline tokens never expire and there is no refresh grant; reaching
	// here means the stored credential is unusable.
	return nil, &RefreshError{Provider: s.Name(), Body: "shopify offline tokens are not refreshable", Terminal: true}
}

func (s *ShopifyAdapter) VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}
	return secureCompare(signatureHeader, hmacSHA256Base64(secret, rawBody))
}

// ParseWebhookPayload maps order/product/customer webhooks. Shopify does not
// wrap payloads in an event envelope; the topic is inferred from the object
// shape and the event id is synthesized upstream when absent.
func (s *ShopifyAdapter) ParseWebhookPayload(rawBody []byte) ([]CanonicalEvent, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(rawBody, &obj); err != nil {
		return nil, fmt.Errorf("unparseable shopify payload: %w", err)
	}

	// Shopify ids come through as JSON numbers; anything else stays empty
	entityID := ""
	switch id := obj["id"].(type) {
	case string:
		entityID = id
	case float64:
		entityID = fmt.Sprintf("%.0f", id)
	}

	dataType := "order"
	attrs := map[string]interface{}{}
	switch {
	case obj["total_price"] != nil:
		dataType = "order"
		attrs["total_price"] = obj["total_price"]
		attrs["currency"] = obj["currency"]
		attrs["financial_status"] = obj["financial_status"]
		attrs["order_number"] = obj["order_number"]
	case obj["variants"] != nil:
		dataType = "product"
		attrs["title"] = obj["title"]
		attrs["product_type"] = obj["product_type"]
	case obj["email"] != nil:
		dataType = "customer"
		attrs["email"] = obj["email"]
		attrs["first_name"] = obj["first_name"]
		attrs["last_name"] = obj["last_name"]
	default:
		attrs = obj
	}

	return []CanonicalEvent{{
		DataType:   dataType,
		EntityID:   entityID,
		Attributes: attrs,
	}}, nil
}

// FetchRows pulls orders for reconciliation syncs
func (s *ShopifyAdapter) FetchRows(ctx context.Context, ts *TokenSet, cfg map[string]string) ([]map[string]interface{}, error) {
	shop := ts.Extra["shop"]
	if shop == "" {
		shop = ts.ProviderAccountID
	}
	if shop == "" {
		return nil, fmt.Errorf("connection has no shop domain")
	}

	header := http.Header{}
	header.Set("X-Shopify-Access-Token", ts.AccessToken)

	var resp struct {
		Orders []map[string]interface{} `json:"orders"`
	}
	endpoint := s.shopBase(shop) + "/admin/api/2024-01/orders.json?status=any&limit=250"
	if err := getJSON(ctx, s.client, endpoint, "", &resp, header); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}
