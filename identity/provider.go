package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
)

// Identity is what a provider asserts about the end user after a successful
// code exchange. Subject is the provider's stable user id, never the email.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider configures one upstream OAuth2 identity provider. The engine
// addresses providers by Name; (Name, Identity.Subject) is the linking key.
type Provider struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	// UserInfoURL is fetched with the bearer token from the exchange to
	// obtain the identity claims.
	UserInfoURL string
	Scopes      []string
	RedirectURL string

	// MapIdentity turns the decoded userinfo document into an Identity.
	// Nil selects the standard OIDC claim names (sub, email,
	// email_verified, name).
	MapIdentity func(claims map[string]any) (Identity, error)

	// HTTPClient overrides the client used for the exchange and the
	// userinfo fetch. Nil uses http.DefaultClient. Tests point this at
	// httptest servers.
	HTTPClient *http.Client
}

// Google returns a provider for Google's OAuth2 endpoints requesting the
// standard identity scopes.
func Google(clientID, clientSecret, redirectURL string) Provider {
	return Provider{
		Name:         "google",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:       []string{"openid", "email", "profile"},
		RedirectURL:  redirectURL,
	}
}

// GitHub returns a provider for GitHub's OAuth2 endpoints. GitHub's user
// document carries a numeric id and may omit the email when the user keeps
// it private.
func GitHub(clientID, clientSecret, redirectURL string) Provider {
	return Provider{
		Name:         "github",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
		UserInfoURL:  "https://api.github.com/user",
		Scopes:       []string{"read:user", "user:email"},
		RedirectURL:  redirectURL,
		MapIdentity:  mapGitHub,
	}
}

// Validate checks that the provider can run an authorization code flow.
func (p *Provider) Validate() error {
	switch {
	case p.Name == "":
		return errors.New("name is required")
	case p.ClientID == "" || p.ClientSecret == "":
		return errors.New("client credentials are required")
	case p.AuthURL == "" || p.TokenURL == "":
		return errors.New("auth and token endpoints are required")
	case p.UserInfoURL == "":
		return errors.New("userinfo endpoint is required")
	case p.RedirectURL == "":
		return errors.New("redirect URL is required")
	}
	return nil
}

// AuthCodeURL builds the provider authorization URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauthConfig().AuthCodeURL(state)
}

// FetchIdentity exchanges the authorization code and resolves the identity
// from the userinfo endpoint. One shot, no retries; the caller bounds ctx.
func (p *Provider) FetchIdentity(ctx context.Context, code string) (Identity, error) {
	if p.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
	}
	cfg := p.oauthConfig()

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("code exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return Identity{}, err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("userinfo fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Identity{}, fmt.Errorf("userinfo status %d: %s", resp.StatusCode, body)
	}

	var claims map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&claims); err != nil {
		return Identity{}, fmt.Errorf("userinfo decode: %w", err)
	}

	mapper := p.MapIdentity
	if mapper == nil {
		mapper = mapOIDC
	}
	ident, err := mapper(claims)
	if err != nil {
		return Identity{}, err
	}
	if ident.Subject == "" {
		return Identity{}, errors.New("provider returned no subject")
	}
	return ident, nil
}

func (p *Provider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthURL,
			TokenURL: p.TokenURL,
		},
	}
}

func mapOIDC(claims map[string]any) (Identity, error) {
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	verified, _ := claims["email_verified"].(bool)
	name, _ := claims["name"].(string)
	return Identity{Subject: sub, Email: email, EmailVerified: verified, Name: name}, nil
}

func mapGitHub(claims map[string]any) (Identity, error) {
	var subject string
	switch id := claims["id"].(type) {
	case float64:
		subject = strconv.FormatInt(int64(id), 10)
	case string:
		subject = id
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	// GitHub only exposes verified primary emails through this endpoint.
	return Identity{Subject: subject, Email: email, EmailVerified: email != "", Name: name}, nil
}
