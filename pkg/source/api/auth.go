package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tidesync/tidesync/pkg/errors"
)

// AuthFlow selects how the connector obtains its bearer token.
const (
	AuthNone     = ""
	AuthToken    = "token"
	AuthRedirect = "redirect"
)

// RedirectConfig drives the implicit-grant login dance of sources that only
// hand out tokens through a browser-style redirect chain.
type RedirectConfig struct {
	AuthorizeURL string `json:"authorizeUrl"`
	ClientID     string `json:"clientId"`
	Scope        string `json:"scope,omitempty"`
	RedirectURI  string `json:"redirectUri"`
}

// tokenSource builds the oauth2.TokenSource for the configured auth flow.
// A nil source means the API is called unauthenticated.
func tokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	switch cfg.AuthFlow {
	case AuthNone:
		return nil, nil
	case AuthToken:
		if cfg.Token == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "token auth flow requires a token")
		}
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}), nil
	case AuthRedirect:
		token, err := redirectLogin(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown auth flow %q", cfg.AuthFlow)
	}
}

// redirectLogin performs the implicit-grant chain: request the authorize
// endpoint, post the login form, follow the final hop, and read the access
// token out of the redirect fragment. Every hop must answer 303; anything
// else fails the run immediately, no retries.
func redirectLogin(ctx context.Context, cfg Config) (string, error) {
	rc := cfg.Redirect
	if rc.AuthorizeURL == "" || rc.ClientID == "" || rc.RedirectURI == "" {
		return "", errors.New(errors.ErrorTypeConfig,
			"redirect auth flow requires authorizeUrl, clientId and redirectUri")
	}
	if cfg.TokenUser == "" || cfg.TokenPassword == "" {
		return "", errors.New(errors.ErrorTypeConfig,
			"redirect auth flow requires tokenUser and tokenPassword")
	}

	// Redirects are followed manually; each Location is the next hop.
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	authorize := rc.AuthorizeURL +
		"?response_type=token&client_id=" + url.QueryEscape(rc.ClientID) +
		"&redirect_uri=" + url.QueryEscape(rc.RedirectURI)
	if rc.Scope != "" {
		authorize += "&scope=" + url.QueryEscape(rc.Scope)
	}

	loginURL, err := hop(ctx, client, http.MethodGet, authorize, "", "authorize request")
	if err != nil {
		return "", err
	}

	form := url.Values{
		"email":    {cfg.TokenUser},
		"password": {cfg.TokenPassword},
	}
	consentURL, err := hop(ctx, client, http.MethodPost, loginURL, form.Encode(), "login submit")
	if err != nil {
		return "", err
	}

	finalURL, err := hop(ctx, client, http.MethodGet, consentURL, "", "consent follow-up")
	if err != nil {
		return "", err
	}

	return tokenFromFragment(finalURL)
}

// hop issues one request of the chain and returns the Location it redirects
// to. Only 303 counts as success.
func hop(ctx context.Context, client *http.Client, method, target, body, stage string) (string, error) {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeAuthentication, stage+" failed")
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeAuthentication, stage+" failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		return "", errors.Newf(errors.ErrorTypeAuthentication,
			"%s answered %d, expected 303", stage, resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.Newf(errors.ErrorTypeAuthentication, "%s redirected without a location", stage)
	}

	// Relative redirects resolve against the request URL.
	next, err := req.URL.Parse(location)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeAuthentication, stage+" returned a bad location")
	}
	return next.String(), nil
}

// tokenFromFragment extracts access_token from the fragment of the final
// redirect URL, e.g. https://app/callback#access_token=...&token_type=bearer.
func tokenFromFragment(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeAuthentication, "cannot parse final redirect URL")
	}

	values, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeAuthentication, "cannot parse redirect fragment")
	}

	token := values.Get("access_token")
	if token == "" {
		return "", errors.New(errors.ErrorTypeAuthentication, "redirect fragment carries no access_token")
	}
	return token, nil
}
