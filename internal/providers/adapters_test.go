package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"go-insights/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = config.ProviderCredentials{
	ClientID:     "client-id",
	ClientSecret: "client-secret",
	RedirectURI:  "https://app.example.com/auth/callback",
}

func TestBuildAuthorizeURLs(t *testing.T) {
	client := &http.Client{}

	tests := []struct {
		name      string
		adapter   Adapter
		challenge string
		extra     map[string]string
		wantHost  string
		wantQuery map[string]string
	}{
		{
			name:      "google includes pkce challenge",
			adapter:   NewGoogleSheetsAdapter(testCreds, client),
			challenge: "challenge-abc",
			wantHost:  "accounts.google.com",
			wantQuery: map[string]string{
				"client_id":             "client-id",
				"code_challenge":        "challenge-abc",
				"code_challenge_method": "S256",
				"state":                 "state-1",
			},
		},
		{
			name:     "stripe connect authorize",
			adapter:  NewStripeAdapter(testCreds, client),
			wantHost: "connect.stripe.com",
			wantQuery: map[string]string{
				"client_id": "client-id",
				"state":     "state-1",
			},
		},
		{
			name:     "shopify uses the shop domain",
			adapter:  NewShopifyAdapter(testCreds, client),
			extra:    map[string]string{"shop": "acme-store.myshopify.com"},
			wantHost: "acme-store.myshopify.com",
			wantQuery: map[string]string{
				"client_id": "client-id",
				"state":     "state-1",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := tc.adapter.BuildAuthorizeURL("state-1", tc.challenge, tc.extra)
			u, err := url.Parse(raw)
			require.NoError(t, err)

			assert.Equal(t, tc.wantHost, u.Host)
			q := u.Query()
			for k, want := range tc.wantQuery {
				assert.Equal(t, want, q.Get(k), "query param %s", k)
			}
		})
	}
}

func TestStripeExchangeCode(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
			assert.Equal(t, "code-1", r.Form.Get("code"))

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"sk_live_x","refresh_token":"rt_x","stripe_user_id":"acct_123","scope":"read_only"}`))
		}))
		defer srv.Close()

		adapter := NewStripeAdapter(testCreds, srv.Client())
		adapter.tokenURL = srv.URL

		ts, err := adapter.ExchangeCode(context.Background(), "code-1", "", nil)
		require.NoError(t, err)
		assert.Equal(t, "sk_live_x", ts.AccessToken)
		assert.Equal(t, "acct_123", ts.ProviderAccountID)
		assert.Nil(t, ts.ExpiresAt)
	})

	t.Run("non-2xx is a token exchange error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		}))
		defer srv.Close()

		adapter := NewStripeAdapter(testCreds, srv.Client())
		adapter.tokenURL = srv.URL

		_, err := adapter.ExchangeCode(context.Background(), "used-code", "", nil)
		var exchangeErr *TokenExchangeError
		require.ErrorAs(t, err, &exchangeErr)
	})

	t.Run("missing stripe_user_id is terminal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"sk_live_x"}`))
		}))
		defer srv.Close()

		adapter := NewStripeAdapter(testCreds, srv.Client())
		adapter.tokenURL = srv.URL

		_, err := adapter.ExchangeCode(context.Background(), "code-1", "", nil)
		var terminal *TerminalConnectionError
		require.ErrorAs(t, err, &terminal)
	})
}

func TestRefreshErrorClassification(t *testing.T) {
	t.Run("invalid_grant is terminal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		}))
		defer srv.Close()

		adapter := NewQuickBooksAdapter(testCreds, srv.Client())
		adapter.tokenURL = srv.URL

		_, err := adapter.Refresh(context.Background(), "revoked-token")
		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)
		assert.True(t, refreshErr.Terminal)
		assert.True(t, IsTerminal(err))
	})

	t.Run("server error is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		}))
		defer srv.Close()

		adapter := NewQuickBooksAdapter(testCreds, srv.Client())
		adapter.tokenURL = srv.URL

		_, err := adapter.Refresh(context.Background(), "good-token")
		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)
		assert.False(t, refreshErr.Terminal)
		assert.False(t, IsTerminal(err))
	})

	t.Run("shopify tokens never refresh", func(t *testing.T) {
		adapter := NewShopifyAdapter(testCreds, nil)

		_, err := adapter.Refresh(context.Background(), "anything")
		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)
		assert.True(t, refreshErr.Terminal)
	})
}

func TestQuickBooksExchangeRequiresRealm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600}`))
	}))
	defer srv.Close()

	adapter := NewQuickBooksAdapter(testCreds, srv.Client())
	adapter.tokenURL = srv.URL

	_, err := adapter.ExchangeCode(context.Background(), "code-1", "", map[string]string{})
	var terminal *TerminalConnectionError
	require.ErrorAs(t, err, &terminal)
}

func TestStripeParseWebhookPayload(t *testing.T) {
	adapter := NewStripeAdapter(testCreds, nil)

	t.Run("charge becomes a payment row in currency units", func(t *testing.T) {
		body := []byte(`{"id":"evt_1","type":"charge.succeeded","data":{"object":{"id":"ch_1","amount":150000,"currency":"usd","status":"succeeded"}}}`)

		events, err := adapter.ParseWebhookPayload(body)
		require.NoError(t, err)
		require.Len(t, events, 1)

		ev := events[0]
		assert.Equal(t, "evt_1", ev.EventID)
		assert.Equal(t, "payment", ev.DataType)
		assert.Equal(t, "ch_1", ev.EntityID)
		assert.Equal(t, 1500.00, ev.Attributes["amount"])
		assert.Equal(t, "usd", ev.Attributes["currency"])
	})

	t.Run("customer event", func(t *testing.T) {
		body := []byte(`{"id":"evt_2","type":"customer.created","data":{"object":{"id":"cus_1","email":"a@b.co"}}}`)

		events, err := adapter.ParseWebhookPayload(body)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "customer", events[0].DataType)
		assert.Equal(t, "a@b.co", events[0].Attributes["email"])
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := adapter.ParseWebhookPayload([]byte("not json"))
		assert.Error(t, err)
	})
}

func TestShopifyParseWebhookPayload(t *testing.T) {
	adapter := NewShopifyAdapter(testCreds, nil)

	t.Run("numeric id is rendered without an exponent", func(t *testing.T) {
		body := []byte(`{"id":5010222350123,"total_price":"42.50","currency":"USD","financial_status":"paid","order_number":1001}`)

		events, err := adapter.ParseWebhookPayload(body)
		require.NoError(t, err)
		require.Len(t, events, 1)

		ev := events[0]
		assert.Equal(t, "order", ev.DataType)
		assert.Equal(t, "5010222350123", ev.EntityID)
		assert.Equal(t, "42.50", ev.Attributes["total_price"])
	})

	t.Run("string id passes through", func(t *testing.T) {
		events, err := adapter.ParseWebhookPayload([]byte(`{"id":"gid-123","email":"a@b.co","first_name":"Ada"}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "customer", events[0].DataType)
		assert.Equal(t, "gid-123", events[0].EntityID)
	})

	t.Run("non-scalar id stays empty instead of garbage", func(t *testing.T) {
		events, err := adapter.ParseWebhookPayload([]byte(`{"id":{"nested":true},"email":"a@b.co"}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Empty(t, events[0].EntityID)
	})
}

func TestRegistry(t *testing.T) {
	cfg := &config.Config{Providers: map[string]config.ProviderCredentials{}}
	registry := NewRegistry(cfg)

	assert.Equal(t, []string{
		ProviderGoogleSheets,
		ProviderLightspeed,
		ProviderPayPal,
		ProviderQuickBooks,
		ProviderShopify,
		ProviderSquare,
		ProviderStripe,
	}, registry.Names())

	_, err := registry.Get("salesforce")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	adapter, err := registry.Get(ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, ProviderStripe, adapter.Name())
}

func TestValidShopDomain(t *testing.T) {
	assert.True(t, ValidShopDomain("acme-store.myshopify.com"))
	assert.False(t, ValidShopDomain("acme-store.example.com"))
	assert.False(t, ValidShopDomain("https://acme.myshopify.com"))
	assert.False(t, ValidShopDomain(""))
}
