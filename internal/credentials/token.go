package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	clientID            = "ast-app"
	defaultTokenTimeout = 30 * time.Second
	maxErrorBody        = 1024
)

// TokenProvider exchanges API keys for bearer tokens.
type TokenProvider struct {
	httpClient *http.Client
}

// NewTokenProvider creates a provider whose requests time out after timeout.
func NewTokenProvider(timeout time.Duration) *TokenProvider {
	if timeout <= 0 {
		timeout = defaultTokenTimeout
	}
	return &TokenProvider{httpClient: &http.Client{Timeout: timeout}}
}

// SetHTTPClient replaces the HTTP client.
func (p *TokenProvider) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		p.httpClient = hc
	}
}

// TokenURL returns the OpenID Connect token endpoint of the tenant.
func TokenURL(cfg Config) string {
	return fmt.Sprintf("%s/auth/realms/%s/protocol/openid-connect/token",
		strings.TrimRight(cfg.IAMURL, "/"), url.PathEscape(cfg.TenantName))
}

// Token returns a bearer token for cfg. Every failure is a *ConfigError.
func (p *TokenProvider) Token(ctx context.Context, cfg Config) (string, error) {
	conf := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  TokenURL(cfg),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.APIKey}).Token()
	if err != nil {
		return "", tokenError(err)
	}
	if token.AccessToken == "" {
		return "", &ConfigError{Field: "api_key", Err: errors.New("token response has no access_token")}
	}
	return token.AccessToken, nil
}

func tokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		body := rErr.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &ConfigError{
			Field: "api_key",
			Err:   fmt.Errorf("token request returned status %d: %s", rErr.Response.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &ConfigError{Field: "iam_url", Err: fmt.Errorf("token request failed: %w", err)}
	}
	return &ConfigError{Field: "api_key", Err: fmt.Errorf("token response rejected: %w", err)}
}
