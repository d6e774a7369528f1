package xero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// OAuthConfig holds the Xero app credentials and identity endpoints
type OAuthConfig struct {
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	Scopes         []string
	AuthURL        string
	TokenURL       string
	RevokeURL      string
	ConnectionsURL string
}

// OAuthClient talks to the Xero identity service
type OAuthClient struct {
	config         *oauth2.Config
	revokeURL      string
	connectionsURL string
	httpClient     *http.Client
	logger         *zap.Logger
	tracer         trace.Tracer
	clock          func() time.Time
}

// NewOAuthClient creates a Xero OAuth client. A nil httpClient uses a client
// with a 30 second timeout.
func NewOAuthClient(cfg OAuthConfig, httpClient *http.Client, logger *zap.Logger) *OAuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		revokeURL:      cfg.RevokeURL,
		connectionsURL: cfg.ConnectionsURL,
		httpClient:     httpClient,
		logger:         logger,
		tracer:         otel.Tracer("xero-oauth"),
		clock:          time.Now,
	}
}

// AuthorizationURL builds the consent URL the user is redirected to
func (o *OAuthClient) AuthorizationURL(state string) string {
	return o.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens. The redirect URI sent is
// the configured one and must equal the URI the code was issued for.
func (o *OAuthClient) Exchange(ctx context.Context, code string) (*Token, error) {
	ctx, span := o.tracer.Start(ctx, "xero.oauth.exchange")
	defer span.End()

	o.logger.Info("Token exchange request",
		zap.String("token_url", o.config.Endpoint.TokenURL),
		zap.String("redirect_uri", o.config.RedirectURL),
		zap.String("code", truncate(code, 6)+"..."))

	tok, err := o.config.Exchange(o.withClient(ctx), code)
	if err != nil {
		err = classifyTokenError("token exchange", err)
		span.RecordError(err)
		return nil, err
	}
	return o.toToken(tok), nil
}

// Refresh exchanges a refresh token for a new token pair. Xero rotates refresh
// tokens, so the one passed in is unusable after a successful call.
func (o *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	ctx, span := o.tracer.Start(ctx, "xero.oauth.refresh")
	defer span.End()

	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is empty", ErrInvalidGrant)
	}

	src := o.config.TokenSource(o.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		err = classifyTokenError("token refresh", err)
		span.RecordError(err)
		return nil, err
	}
	return o.toToken(tok), nil
}

// Connections lists the tenants the access token is authorized for
func (o *OAuthClient) Connections(ctx context.Context, accessToken string) ([]Tenant, error) {
	ctx, span := o.tracer.Start(ctx, "xero.oauth.connections")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.connectionsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get tenants: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Op: "connections", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tenants []Tenant
	if err := json.NewDecoder(resp.Body).Decode(&tenants); err != nil {
		return nil, fmt.Errorf("failed to decode tenants response: %w", err)
	}
	return tenants, nil
}

// Revoke revokes a refresh token and every access token issued from it
func (o *OAuthClient) Revoke(ctx context.Context, refreshToken string) error {
	if o.revokeURL == "" || refreshToken == "" {
		return nil
	}

	data := url.Values{}
	data.Set("token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.revokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(o.config.ClientID, o.config.ClientSecret)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Op: "revoke", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (o *OAuthClient) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func (o *OAuthClient) toToken(tok *oauth2.Token) *Token {
	expiresAt := tok.Expiry
	if tok.ExpiresIn > 0 {
		expiresAt = o.clock().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if expiresAt.IsZero() {
		// No expiry reported: treat as already expiring so the next use refreshes.
		expiresAt = o.clock()
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    expiresAt,
	}
}

func classifyTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if re.ErrorCode == "invalid_grant" {
		if re.ErrorDescription != "" {
			return fmt.Errorf("%w: %s", ErrInvalidGrant, re.ErrorDescription)
		}
		return ErrInvalidGrant
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	return &APIError{Op: op, StatusCode: status, Body: string(re.Body)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
