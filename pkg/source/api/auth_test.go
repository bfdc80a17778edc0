package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redirectConfig(serverURL string) Config {
	return Config{
		URL:           serverURL + "/rows",
		AuthFlow:      AuthRedirect,
		TokenUser:     "user@example.com",
		TokenPassword: "secret",
		Redirect: RedirectConfig{
			AuthorizeURL: serverURL + "/authorize",
			ClientID:     "tidesync",
			RedirectURI:  serverURL + "/callback",
		},
	}
}

func TestRedirectLogin(t *testing.T) {
	var sawEmail, sawPassword string

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tidesync", r.URL.Query().Get("client_id"))
		w.Header().Set("Location", "/login")
		w.WriteHeader(http.StatusSeeOther)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		sawEmail = r.PostFormValue("email")
		sawPassword = r.PostFormValue("password")
		w.Header().Set("Location", "/grant")
		w.WriteHeader(http.StatusSeeOther)
	})
	mux.HandleFunc("/grant", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/callback#access_token=tok123&token_type=bearer")
		w.WriteHeader(http.StatusSeeOther)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	token, err := redirectLogin(context.Background(), redirectConfig(server.URL))
	require.NoError(t, err)

	assert.Equal(t, "tok123", token)
	assert.Equal(t, "user@example.com", sawEmail)
	assert.Equal(t, "secret", sawPassword)
}

func TestRedirectLoginFailsOnWrongStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := redirectLogin(context.Background(), redirectConfig(server.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 303")
}

func TestRedirectLoginFailsWithoutToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/callback")
		w.WriteHeader(http.StatusSeeOther)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	_, err := redirectLogin(context.Background(), redirectConfig(server.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_token")
}

func TestRedirectLoginValidatesConfig(t *testing.T) {
	_, err := redirectLogin(context.Background(), Config{AuthFlow: AuthRedirect})
	assert.Error(t, err)
}

func TestTokenFromFragment(t *testing.T) {
	token, err := tokenFromFragment("https://app/callback#access_token=abc&state=x")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = tokenFromFragment("https://app/callback?access_token=abc")
	assert.Error(t, err, "token must live in the fragment")
}

func TestTokenSourceFlows(t *testing.T) {
	ts, err := tokenSource(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, ts)

	ts, err = tokenSource(context.Background(), Config{AuthFlow: AuthToken, Token: "t"})
	require.NoError(t, err)
	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "t", token.AccessToken)

	_, err = tokenSource(context.Background(), Config{AuthFlow: AuthToken})
	assert.Error(t, err)

	_, err = tokenSource(context.Background(), Config{AuthFlow: "saml"})
	assert.Error(t, err)
}
