package xero

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestOAuthClient(t *testing.T, handler http.HandlerFunc) (*OAuthClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewOAuthClient(OAuthConfig{
		ClientID:       "test-client-id",
		ClientSecret:   "test-client-secret",
		RedirectURI:    "http://localhost:3000/callback",
		Scopes:         []string{"offline_access", "accounting.transactions"},
		AuthURL:        server.URL + "/identity/connect/authorize",
		TokenURL:       server.URL + "/connect/token",
		RevokeURL:      server.URL + "/connect/revocation",
		ConnectionsURL: server.URL + "/connections",
	}, server.Client(), zap.NewNop())
	return client, server
}

func TestAuthorizationURL(t *testing.T) {
	client, server := newTestOAuthClient(t, http.NotFound)

	authURL := client.AuthorizationURL("state-123")

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/identity/connect/authorize", parsed.Scheme+"://"+parsed.Host+parsed.Path)

	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "test-client-id", query.Get("client_id"))
	assert.Equal(t, "http://localhost:3000/callback", query.Get("redirect_uri"))
	assert.Equal(t, "offline_access accounting.transactions", query.Get("scope"))
	assert.Equal(t, "state-123", query.Get("state"))
}

func TestExchange(t *testing.T) {
	client, _ := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/connect/token", r.URL.Path)
		require.NoError(t, r.ParseForm())

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "test-client-id", user)
		assert.Equal(t, "test-client-secret", pass)
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "auth-code-123", r.PostForm.Get("code"))
		assert.Equal(t, "http://localhost:3000/callback", r.PostForm.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "access-1",
			"refresh_token": "refresh-1",
			"token_type": "Bearer",
			"expires_in": 1800
		}`))
	})
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client.clock = func() time.Time { return now }

	tok, err := client.Exchange(context.Background(), "auth-code-123")
	require.NoError(t, err)

	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, now.Add(30*time.Minute), tok.ExpiresAt)
}

func TestRefresh(t *testing.T) {
	client, _ := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access-2","refresh_token":"refresh-2","token_type":"Bearer","expires_in":1800}`))
	})

	tok, err := client.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-2", tok.RefreshToken)
	assert.True(t, tok.ExpiresAt.After(time.Now().Add(25*time.Minute)))
}

func TestRefreshErrors(t *testing.T) {
	t.Run("invalid grant", func(t *testing.T) {
		client, _ := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
		})

		_, err := client.Refresh(context.Background(), "revoked")
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("server error is transient", func(t *testing.T) {
		client, _ := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		_, err := client.Refresh(context.Background(), "refresh-1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidGrant)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	})

	t.Run("rate limited is transient", func(t *testing.T) {
		client, _ := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limited"}`))
		})

		_, err := client.Refresh(context.Background(), "refresh-1")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.IsRateLimited())
	})

	t.Run("empty refresh token", func(t *testing.T) {
		client, _ := newTestOAuthClient(t, http.NotFound)

		_, err := client.Refresh(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestConnections(t *testing.T) {
	client, _ := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connections", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Tenant{
			{ConnectionID: "conn-1", TenantID: "tenant-1", TenantType: "ORGANISATION", TenantName: "Demo Company (AU)"},
		})
	})

	tenants, err := client.Connections(context.Background(), "access-1")
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "tenant-1", tenants[0].TenantID)
	assert.Equal(t, "Demo Company (AU)", tenants[0].TenantName)
}

func TestRevoke(t *testing.T) {
	var revoked string
	client, _ := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connect/revocation", r.URL.Path)
		require.NoError(t, r.ParseForm())
		revoked = r.PostForm.Get("token")
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.Revoke(context.Background(), "refresh-1"))
	assert.Equal(t, "refresh-1", revoked)
}
