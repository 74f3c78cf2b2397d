package providers

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rebatewell/go-wearables/core"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB

	signatureMethodHMACSHA1 = "HMAC-SHA1"
	oauthVersion            = "1.0"
	callbackOutOfBand       = "oob"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type OAuth1Config struct {
	ID              string
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
	ConsumerKey     string
	ConsumerSecret  string

	// ExternalAccountParam names the access-token response parameter that
	// carries the provider-side account id, when the provider returns one.
	ExternalAccountParam string

	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	Nonce               func() (string, error)
	HTTPClient          HTTPDoer
}

// OAuth1Provider drives a three-legged OAuth 1.0a handshake with HMAC-SHA1
// request signing. Source packages configure one with their endpoints.
type OAuth1Provider struct {
	cfg        OAuth1Config
	httpClient HTTPDoer
}

type tokenExchangePayload struct {
	Token       string
	TokenSecret string
	Extra       url.Values
}

func NewOAuth1Provider(cfg OAuth1Config) (*OAuth1Provider, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	if _, err := core.ParseSource(cfg.ID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.RequestTokenURL) == "" {
		return nil, fmt.Errorf("providers: request token url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.AuthorizeURL) == "" {
		return nil, fmt.Errorf("providers: authorize url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.AccessTokenURL) == "" {
		return nil, fmt.Errorf("providers: access token url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.ConsumerKey) == "" {
		return nil, fmt.Errorf("providers: consumer key is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return nil, fmt.Errorf("providers: consumer secret is required for provider %q", cfg.ID)
	}

	cfg.RequestTokenURL = strings.TrimSpace(cfg.RequestTokenURL)
	cfg.AuthorizeURL = strings.TrimSpace(cfg.AuthorizeURL)
	cfg.AccessTokenURL = strings.TrimSpace(cfg.AccessTokenURL)
	cfg.ConsumerKey = strings.TrimSpace(cfg.ConsumerKey)
	cfg.ConsumerSecret = strings.TrimSpace(cfg.ConsumerSecret)
	cfg.ExternalAccountParam = strings.TrimSpace(cfg.ExternalAccountParam)
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}
	if cfg.Nonce == nil {
		cfg.Nonce = generateSigningNonce
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}

	return &OAuth1Provider{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

func (p *OAuth1Provider) ID() core.Source {
	if p == nil {
		return ""
	}
	return core.Source(p.cfg.ID)
}

func (p *OAuth1Provider) BeginAuthorization(ctx context.Context, req core.BeginAuthorizationRequest) (core.BeginAuthorizationResponse, error) {
	if p == nil {
		return core.BeginAuthorizationResponse{}, fmt.Errorf("providers: oauth1 provider is nil")
	}
	if err := req.Member.Validate(); err != nil {
		return core.BeginAuthorizationResponse{}, err
	}

	callback := strings.TrimSpace(req.CallbackURL)
	if callback == "" {
		callback = callbackOutOfBand
	}

	payload, err := p.exchangeToken(ctx, p.cfg.RequestTokenURL, map[string]string{
		"oauth_callback": callback,
	}, "")
	if err != nil {
		return core.BeginAuthorizationResponse{}, err
	}
	if confirmed := strings.TrimSpace(payload.Extra.Get("oauth_callback_confirmed")); confirmed != "" && confirmed != "true" {
		return core.BeginAuthorizationResponse{}, fmt.Errorf(
			"%w: provider %q did not confirm the callback",
			core.ErrExchangeFailed, p.cfg.ID,
		)
	}

	authorizeURL := p.cfg.AuthorizeURL
	separator := "?"
	if strings.Contains(authorizeURL, "?") {
		separator = "&"
	}
	authorizeURL += separator + "oauth_token=" + url.QueryEscape(payload.Token)

	return core.BeginAuthorizationResponse{
		AuthorizeURL:       authorizeURL,
		RequestToken:       payload.Token,
		RequestTokenSecret: payload.TokenSecret,
		Metadata: map[string]any{
			"provider_id": p.cfg.ID,
		},
	}, nil
}

func (p *OAuth1Provider) CompleteAuthorization(ctx context.Context, req core.CompleteAuthorizationRequest) (core.CompleteAuthorizationResponse, error) {
	if p == nil {
		return core.CompleteAuthorizationResponse{}, fmt.Errorf("providers: oauth1 provider is nil")
	}
	requestToken := strings.TrimSpace(req.RequestToken)
	if requestToken == "" {
		return core.CompleteAuthorizationResponse{}, fmt.Errorf("providers: request token is required")
	}
	verifier := strings.TrimSpace(req.Verifier)
	if verifier == "" {
		return core.CompleteAuthorizationResponse{}, fmt.Errorf("providers: oauth verifier is required")
	}

	payload, err := p.exchangeToken(ctx, p.cfg.AccessTokenURL, map[string]string{
		"oauth_token":    requestToken,
		"oauth_verifier": verifier,
	}, strings.TrimSpace(req.RequestTokenSecret))
	if err != nil {
		return core.CompleteAuthorizationResponse{}, err
	}

	externalAccountID := ""
	if p.cfg.ExternalAccountParam != "" {
		externalAccountID = strings.TrimSpace(payload.Extra.Get(p.cfg.ExternalAccountParam))
	}
	if externalAccountID == "" {
		externalAccountID = fmt.Sprintf("%s:%s", p.cfg.ID, strings.TrimSpace(req.Member.ID))
	}

	credential := core.ActiveCredential{
		TokenType:         core.TokenTypeOAuth1,
		AccessToken:       payload.Token,
		AccessTokenSecret: payload.TokenSecret,
		ExternalAccountID: externalAccountID,
		Metadata: map[string]any{
			"provider_id": p.cfg.ID,
		},
	}

	return core.CompleteAuthorizationResponse{
		ExternalAccountID: externalAccountID,
		Credential:        credential,
		Metadata: map[string]any{
			"provider_id": p.cfg.ID,
		},
	}, nil
}

// SignRequest applies an OAuth 1.0a Authorization header to an outbound API
// request using the stored access token pair.
func (p *OAuth1Provider) SignRequest(req *http.Request, credential core.ActiveCredential) error {
	if p == nil {
		return fmt.Errorf("providers: oauth1 provider is nil")
	}
	if req == nil || req.URL == nil {
		return fmt.Errorf("providers: request is required")
	}
	oauthParams, err := p.baseOAuthParams()
	if err != nil {
		return err
	}
	if token := strings.TrimSpace(credential.AccessToken); token != "" {
		oauthParams["oauth_token"] = token
	}
	signature := p.signature(req.Method, req.URL, oauthParams, strings.TrimSpace(credential.AccessTokenSecret))
	oauthParams["oauth_signature"] = signature
	req.Header.Set("Authorization", authorizationHeader(oauthParams))
	return nil
}

func (p *OAuth1Provider) exchangeToken(
	ctx context.Context,
	endpoint string,
	params map[string]string,
	tokenSecret string,
) (tokenExchangePayload, error) {
	if p.httpClient == nil {
		return tokenExchangePayload{}, fmt.Errorf("providers: oauth1 http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return tokenExchangePayload{}, fmt.Errorf("providers: parse endpoint %q: %w", endpoint, err)
	}

	oauthParams, err := p.baseOAuthParams()
	if err != nil {
		return tokenExchangePayload{}, err
	}
	for key, value := range params {
		oauthParams[key] = value
	}
	oauthParams["oauth_signature"] = p.signature(http.MethodPost, endpointURL, oauthParams, tokenSecret)

	requestCtx, cancel := context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, nil)
	if err != nil {
		return tokenExchangePayload{}, err
	}
	httpReq.Header.Set("Authorization", authorizationHeader(oauthParams))
	httpReq.Header.Set("Accept", "application/x-www-form-urlencoded")

	response, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tokenExchangePayload{}, fmt.Errorf(
			"%w: token request to %q failed: %v",
			core.ErrProviderUnavailable, p.cfg.ID, err,
		)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return tokenExchangePayload{}, fmt.Errorf(
			"%w: read token response from %q: %v",
			core.ErrProviderUnavailable, p.cfg.ID, readErr,
		)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenExchangePayload{}, fmt.Errorf(
			"%w: token response from %q exceeds %d bytes",
			core.ErrExchangeFailed, p.cfg.ID, maxTokenResponseBodyBytes,
		)
	}
	if response.StatusCode >= http.StatusInternalServerError {
		return tokenExchangePayload{}, fmt.Errorf(
			"%w: token endpoint of %q returned %d",
			core.ErrProviderUnavailable, p.cfg.ID, response.StatusCode,
		)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return tokenExchangePayload{}, fmt.Errorf(
			"%w: token endpoint of %q returned %d: %s",
			core.ErrExchangeFailed, p.cfg.ID, response.StatusCode, summarizeBody(body),
		)
	}

	values, parseErr := url.ParseQuery(strings.TrimSpace(string(body)))
	if parseErr != nil {
		return tokenExchangePayload{}, fmt.Errorf(
			"%w: decode token response from %q: %v",
			core.ErrExchangeFailed, p.cfg.ID, parseErr,
		)
	}
	token := strings.TrimSpace(values.Get("oauth_token"))
	secret := strings.TrimSpace(values.Get("oauth_token_secret"))
	if token == "" || secret == "" {
		return tokenExchangePayload{}, fmt.Errorf(
			"%w: token response from %q is missing oauth_token or oauth_token_secret",
			core.ErrExchangeFailed, p.cfg.ID,
		)
	}

	return tokenExchangePayload{
		Token:       token,
		TokenSecret: secret,
		Extra:       values,
	}, nil
}

func (p *OAuth1Provider) baseOAuthParams() (map[string]string, error) {
	nonce, err := p.cfg.Nonce()
	if err != nil {
		return nil, fmt.Errorf("providers: generate signing nonce: %w", err)
	}
	return map[string]string{
		"oauth_consumer_key":     p.cfg.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": signatureMethodHMACSHA1,
		"oauth_timestamp":        strconv.FormatInt(p.cfg.Now().Unix(), 10),
		"oauth_version":          oauthVersion,
	}, nil
}

// signature computes the HMAC-SHA1 signature over the normalized request per
// RFC 5849 section 3.4. Query parameters on the endpoint URL participate in
// the base string alongside the oauth_* protocol parameters.
func (p *OAuth1Provider) signature(method string, endpoint *url.URL, oauthParams map[string]string, tokenSecret string) string {
	pairs := make([][2]string, 0, len(oauthParams)+4)
	for key, value := range oauthParams {
		if key == "oauth_signature" {
			continue
		}
		pairs = append(pairs, [2]string{percentEncode(key), percentEncode(value)})
	}
	for key, values := range endpoint.Query() {
		for _, value := range values {
			pairs = append(pairs, [2]string{percentEncode(key), percentEncode(value)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] == pairs[j][0] {
			return pairs[i][1] < pairs[j][1]
		}
		return pairs[i][0] < pairs[j][0]
	})

	encoded := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		encoded = append(encoded, pair[0]+"="+pair[1])
	}

	baseString := strings.ToUpper(method) +
		"&" + percentEncode(baseStringURI(endpoint)) +
		"&" + percentEncode(strings.Join(encoded, "&"))
	signingKey := percentEncode(p.cfg.ConsumerSecret) + "&" + percentEncode(tokenSecret)

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// baseStringURI lowercases scheme and host and drops default ports and the
// query component, per RFC 5849 section 3.4.1.2.
func baseStringURI(endpoint *url.URL) string {
	scheme := strings.ToLower(endpoint.Scheme)
	host := strings.ToLower(endpoint.Host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) ||
		(scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	path := endpoint.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func authorizationHeader(oauthParams map[string]string) string {
	keys := make([]string, 0, len(oauthParams))
	for key := range oauthParams {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, percentEncode(key)+`="`+percentEncode(oauthParams[key])+`"`)
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// percentEncode applies RFC 3986 encoding with the unreserved character set
// OAuth 1.0a requires. url.QueryEscape is not equivalent (it encodes space
// as '+' and leaves '~' escaped).
func percentEncode(value string) string {
	var builder strings.Builder
	for _, b := range []byte(value) {
		if isUnreservedByte(b) {
			builder.WriteByte(b)
			continue
		}
		builder.WriteString(fmt.Sprintf("%%%02X", b))
	}
	return builder.String()
}

func isUnreservedByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	default:
		return false
	}
}

func summarizeBody(body []byte) string {
	summary := strings.TrimSpace(string(body))
	if len(summary) > 256 {
		summary = summary[:256]
	}
	if summary == "" {
		return "empty body"
	}
	return summary
}

func generateSigningNonce() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

var _ core.HandshakeProvider = (*OAuth1Provider)(nil)
