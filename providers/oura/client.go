// Package oura implements the bearer-token REST client for the Oura v2 API:
// per-category daily-record fetchers plus token verification for the
// personal-access-token connect path.
package oura

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rebatewell/go-wearables/core"
	"github.com/rebatewell/go-wearables/providers"
)

const (
	DefaultBaseURL = "https://api.ouraring.com"

	sleepPath        = "/v2/usercollection/daily_sleep"
	activityPath     = "/v2/usercollection/daily_activity"
	readinessPath    = "/v2/usercollection/daily_readiness"
	personalInfoPath = "/v2/usercollection/personal_info"

	defaultFetchTimeout  = 15 * time.Second
	maxResponseBodyBytes = 1 << 20 // 1 MiB
	maxPagesPerFetch     = 32
	dateParamLayout      = "2006-01-02"
)

type Config struct {
	BaseURL      string
	FetchTimeout time.Duration
	HTTPClient   providers.HTTPDoer
}

// Client issues authenticated GETs against the per-category endpoints. It
// holds no credential state; the caller passes the decrypted credential per
// call.
type Client struct {
	cfg        Config
	httpClient providers.HTTPDoer
}

func NewClient(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.FetchTimeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

func (c *Client) ID() core.Source {
	return core.SourceOura
}

func (c *Client) FetchSleep(ctx context.Context, credential core.ActiveCredential, startDate, endDate string) ([]core.SleepRecord, error) {
	items, err := c.fetchDailyRecords(ctx, credential, sleepPath, startDate, endDate)
	if err != nil {
		return nil, err
	}
	records := make([]core.SleepRecord, 0, len(items))
	for _, item := range items {
		records = append(records, core.SleepRecord{
			Day:   item.Day,
			Score: item.Score,
		})
	}
	return records, nil
}

func (c *Client) FetchActivity(ctx context.Context, credential core.ActiveCredential, startDate, endDate string) ([]core.ActivityRecord, error) {
	items, err := c.fetchDailyRecords(ctx, credential, activityPath, startDate, endDate)
	if err != nil {
		return nil, err
	}
	records := make([]core.ActivityRecord, 0, len(items))
	for _, item := range items {
		records = append(records, core.ActivityRecord{
			Day:            item.Day,
			Steps:          item.Steps,
			ActiveCalories: item.ActiveCalories,
			Score:          item.Score,
		})
	}
	return records, nil
}

func (c *Client) FetchReadiness(ctx context.Context, credential core.ActiveCredential, startDate, endDate string) ([]core.ReadinessRecord, error) {
	items, err := c.fetchDailyRecords(ctx, credential, readinessPath, startDate, endDate)
	if err != nil {
		return nil, err
	}
	records := make([]core.ReadinessRecord, 0, len(items))
	for _, item := range items {
		records = append(records, core.ReadinessRecord{
			Day:   item.Day,
			Score: item.Score,
		})
	}
	return records, nil
}

// VerifyToken probes the personal-info endpoint with a member-supplied token
// and returns the provider-side account id when the token is accepted.
func (c *Client) VerifyToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: token is required", core.ErrMissingParams)
	}

	body, err := c.get(ctx, personalInfoPath, nil, token)
	if err != nil {
		return "", err
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if unmarshalErr := json.Unmarshal(body, &decoded); unmarshalErr != nil {
		return "", fmt.Errorf("%w: decode personal info: %v", core.ErrProviderUnavailable, unmarshalErr)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return "", fmt.Errorf("%w: personal info response is missing the account id", core.ErrProviderUnavailable)
	}
	return strings.TrimSpace(decoded.ID), nil
}

type dailyRecordItem struct {
	Day            string
	Score          *int
	Steps          int
	ActiveCalories int
}

type dailyRecordPage struct {
	Data []struct {
		Day            string `json:"day"`
		Score          *int   `json:"score"`
		Steps          *int   `json:"steps"`
		ActiveCalories *int   `json:"active_calories"`
	} `json:"data"`
	NextToken *string `json:"next_token"`
}

func (c *Client) fetchDailyRecords(
	ctx context.Context,
	credential core.ActiveCredential,
	path string,
	startDate string,
	endDate string,
) ([]dailyRecordItem, error) {
	if c == nil {
		return nil, fmt.Errorf("oura: client is nil")
	}
	token := strings.TrimSpace(credential.AccessToken)
	if token == "" {
		return nil, fmt.Errorf("%w: credential has no access token", core.ErrAuthExpired)
	}
	if err := validateDateParam(startDate); err != nil {
		return nil, err
	}
	if err := validateDateParam(endDate); err != nil {
		return nil, err
	}

	records := []dailyRecordItem{}
	nextToken := ""
	for page := 0; page < maxPagesPerFetch; page++ {
		query := url.Values{}
		query.Set("start_date", strings.TrimSpace(startDate))
		query.Set("end_date", strings.TrimSpace(endDate))
		if nextToken != "" {
			query.Set("next_token", nextToken)
		}

		body, err := c.get(ctx, path, query, token)
		if err != nil {
			return nil, err
		}

		var decoded dailyRecordPage
		if unmarshalErr := json.Unmarshal(body, &decoded); unmarshalErr != nil {
			return nil, fmt.Errorf("%w: decode %s response: %v", core.ErrProviderUnavailable, path, unmarshalErr)
		}
		if decoded.Data == nil {
			return nil, fmt.Errorf("%w: %s response is missing the data collection", core.ErrProviderUnavailable, path)
		}

		for _, item := range decoded.Data {
			day := strings.TrimSpace(item.Day)
			if day == "" {
				return nil, fmt.Errorf("%w: %s record is missing its day field", core.ErrProviderUnavailable, path)
			}
			record := dailyRecordItem{
				Day:   day,
				Score: item.Score,
			}
			if item.Steps != nil {
				record.Steps = *item.Steps
			}
			if item.ActiveCalories != nil {
				record.ActiveCalories = *item.ActiveCalories
			}
			records = append(records, record)
		}

		if decoded.NextToken == nil || strings.TrimSpace(*decoded.NextToken) == "" {
			return records, nil
		}
		nextToken = strings.TrimSpace(*decoded.NextToken)
	}
	return nil, fmt.Errorf("%w: %s pagination exceeded %d pages", core.ErrProviderUnavailable, path, maxPagesPerFetch)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, token string) ([]byte, error) {
	if c.httpClient == nil {
		return nil, fmt.Errorf("oura: http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: request to %s failed: %v", core.ErrProviderUnavailable, path, err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes+1))
	if readErr != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", core.ErrProviderUnavailable, path, readErr)
	}
	if int64(len(body)) > maxResponseBodyBytes {
		return nil, fmt.Errorf("%w: %s response exceeds %d bytes", core.ErrProviderUnavailable, path, maxResponseBodyBytes)
	}

	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned %d", core.ErrAuthExpired, path, response.StatusCode)
	case response.StatusCode == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(response.Header.Get("Retry-After"))
		if retryAfter != "" {
			return nil, fmt.Errorf("%w: %s throttled, retry after %s", core.ErrRateLimited, path, retryAfter)
		}
		return nil, fmt.Errorf("%w: %s throttled", core.ErrRateLimited, path)
	case response.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %s returned %d", core.ErrProviderUnavailable, path, response.StatusCode)
	case response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("%w: %s returned %d", core.ErrProviderUnavailable, path, response.StatusCode)
	}
	return body, nil
}

func validateDateParam(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("oura: date parameter is required")
	}
	if _, err := time.Parse(dateParamLayout, trimmed); err != nil {
		return fmt.Errorf("oura: date parameter %q is not in %s form", trimmed, dateParamLayout)
	}
	return nil
}

var _ core.TokenVerifier = (*Client)(nil)
