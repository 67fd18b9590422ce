package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// exchangeForm posts an authorization-code grant and maps failures to
// *TokenExchangeError. Network errors are wrapped the same way: the code is
// spent either way and the flow must restart.
func exchangeForm(ctx context.Context, client *http.Client, provider, endpoint string, form url.Values, header http.Header) (*tokenResponse, error) {
	status, body, err := postForm(ctx, client, endpoint, form, header)
	if err != nil {
		return nil, &TokenExchangeError{Provider: provider, Body: err.Error()}
	}
	if status/100 != 2 {
		return nil, &TokenExchangeError{Provider: provider, StatusCode: status, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &TokenExchangeError{Provider: provider, StatusCode: status, Body: "unparseable token response: " + string(body)}
	}
	if tr.AccessToken == "" {
		return nil, &TokenExchangeError{Provider: provider, StatusCode: status, Body: "token response carries no access_token: " + string(body)}
	}
	return &tr, nil
}

// refreshForm posts a refresh_token grant and maps failures to *RefreshError
// so callers can split terminal (invalid_grant) from transient failures.
func refreshForm(ctx context.Context, client *http.Client, provider, endpoint string, form url.Values, header http.Header) (*tokenResponse, error) {
	status, body, err := postForm(ctx, client, endpoint, form, header)
	if err != nil {
		return nil, classifyRefresh(provider, status, body, err)
	}
	if status/100 != 2 {
		return nil, classifyRefresh(provider, status, body, nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &RefreshError{Provider: provider, StatusCode: status, Body: "unparseable token response"}
	}
	if tr.AccessToken == "" {
		return nil, &RefreshError{Provider: provider, StatusCode: status, Body: "token response carries no access_token", Terminal: true}
	}
	return &tr, nil
}
