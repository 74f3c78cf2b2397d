// Package garmin wires the shared OAuth 1.0a handshake to the Garmin Connect
// endpoints.
package garmin

import (
	"time"

	"github.com/rebatewell/go-wearables/core"
	"github.com/rebatewell/go-wearables/providers"
)

const (
	RequestTokenURL = "https://connectapi.garmin.com/oauth-service/oauth/request_token"
	AuthorizeURL    = "https://connect.garmin.com/oauthConfirm"
	AccessTokenURL  = "https://connectapi.garmin.com/oauth-service/oauth/access_token"
)

type Config struct {
	ConsumerKey         string
	ConsumerSecret      string
	TokenRequestTimeout time.Duration
	HTTPClient          providers.HTTPDoer

	// Endpoint overrides for tests and sandbox environments.
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
}

func New(cfg Config) (*providers.OAuth1Provider, error) {
	requestTokenURL := cfg.RequestTokenURL
	if requestTokenURL == "" {
		requestTokenURL = RequestTokenURL
	}
	authorizeURL := cfg.AuthorizeURL
	if authorizeURL == "" {
		authorizeURL = AuthorizeURL
	}
	accessTokenURL := cfg.AccessTokenURL
	if accessTokenURL == "" {
		accessTokenURL = AccessTokenURL
	}

	return providers.NewOAuth1Provider(providers.OAuth1Config{
		ID:                  string(core.SourceGarmin),
		RequestTokenURL:     requestTokenURL,
		AuthorizeURL:        authorizeURL,
		AccessTokenURL:      accessTokenURL,
		ConsumerKey:         cfg.ConsumerKey,
		ConsumerSecret:      cfg.ConsumerSecret,
		TokenRequestTimeout: cfg.TokenRequestTimeout,
		HTTPClient:          cfg.HTTPClient,
	})
}
