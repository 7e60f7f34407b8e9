package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider wires a Provider at an httptest server that accepts one
// authorization code and serves the given userinfo document.
func fakeProvider(t *testing.T, wantCode string, userinfo map[string]any) (Provider, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != wantCode {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-12345",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-12345" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(userinfo)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return Provider{
		Name:         "fake",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      srv.URL + "/auth",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/userinfo",
		Scopes:       []string{"openid", "email"},
		RedirectURL:  "https://app.example.com/callback",
		HTTPClient:   srv.Client(),
	}, srv
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	p, _ := fakeProvider(t, "code-1", nil)
	u := p.AuthCodeURL("state-abc")
	assert.Contains(t, u, "state=state-abc")
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "redirect_uri=")
}

func TestFetchIdentityOIDCMapping(t *testing.T) {
	p, _ := fakeProvider(t, "code-1", map[string]any{
		"sub":            "user-9",
		"email":          "pat@example.com",
		"email_verified": true,
		"name":           "Pat",
	})

	ident, err := p.FetchIdentity(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "user-9", ident.Subject)
	assert.Equal(t, "pat@example.com", ident.Email)
	assert.True(t, ident.EmailVerified)
}

func TestFetchIdentityBadCode(t *testing.T) {
	p, _ := fakeProvider(t, "code-1", map[string]any{"sub": "user-9"})
	_, err := p.FetchIdentity(context.Background(), "stolen-code")
	require.Error(t, err)
}

func TestFetchIdentityMissingSubject(t *testing.T) {
	p, _ := fakeProvider(t, "code-1", map[string]any{"email": "no-sub@example.com"})
	_, err := p.FetchIdentity(context.Background(), "code-1")
	require.Error(t, err)
}

func TestGitHubMapping(t *testing.T) {
	ident, err := mapGitHub(map[string]any{
		"id":    float64(583231),
		"email": "octo@example.com",
		"name":  "Octo",
	})
	require.NoError(t, err)
	assert.Equal(t, "583231", ident.Subject)
	assert.True(t, ident.EmailVerified)

	ident, err = mapGitHub(map[string]any{"id": float64(12)})
	require.NoError(t, err)
	assert.False(t, ident.EmailVerified)
}

func TestProviderValidate(t *testing.T) {
	p := Google("id", "secret", "https://app.example.com/cb")
	require.NoError(t, p.Validate())

	p.ClientSecret = ""
	assert.Error(t, p.Validate())

	gh := GitHub("id", "secret", "")
	assert.Error(t, gh.Validate())
}
