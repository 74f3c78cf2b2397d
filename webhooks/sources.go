package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rebatewell/go-wearables/core"
)

// Notification is one member-scoped ping extracted from a delivery payload.
type Notification struct {
	ExternalAccountID string
	Categories        []core.Category
}

type NotificationParser func(delivery Delivery) ([]Notification, error)

type Verifier interface {
	Verify(ctx context.Context, delivery Delivery) error
}

// SourceTemplate bundles the per-provider verification and payload shape.
type SourceTemplate struct {
	Source   core.Source
	Verifier Verifier
	Parse    NotificationParser
}

// DefaultTemplates wires the built-in providers. Garmin pings are
// unsigned; the subscription endpoint itself is the shared secret. Oura
// signs each delivery with HMAC-SHA256 over the body.
func DefaultTemplates(ouraSigningSecret string) map[core.Source]SourceTemplate {
	templates := map[core.Source]SourceTemplate{
		core.SourceGarmin: {
			Source: core.SourceGarmin,
			Parse:  ParseGarminPing,
		},
		core.SourceOura: {
			Source: core.SourceOura,
			Parse:  ParseOuraEvent,
		},
	}
	if strings.TrimSpace(ouraSigningSecret) != "" {
		templates[core.SourceOura] = SourceTemplate{
			Source: core.SourceOura,
			Verifier: HeaderHMACVerifier{
				Header: "x-oura-signature",
				Secret: ouraSigningSecret,
			},
			Parse: ParseOuraEvent,
		}
	}
	return templates
}

type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, delivery Delivery) error {
	header := strings.TrimSpace(headerValue(delivery.Headers, v.Header))
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header))
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimPrefix(header, strings.TrimSpace(v.Prefix))
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(delivery.Body)
	expected := mac.Sum(nil)

	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode base64 signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return fmt.Errorf("webhooks: signature verification failed")
		}
	default:
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode hex signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return fmt.Errorf("webhooks: signature verification failed")
		}
	}
	return nil
}

// garminSummaryCategories maps Garmin ping payload keys to data
// categories. Both epoch and daily summaries fold into activity.
var garminSummaryCategories = map[string]core.Category{
	"sleeps":  core.CategorySleep,
	"dailies": core.CategoryActivity,
	"epochs":  core.CategoryActivity,
}

type garminPingEntry struct {
	UserID string `json:"userId"`
}

// ParseGarminPing reads the summary-keyed ping body Garmin posts when new
// data is ready. Unknown summary keys are ignored so new Garmin summary
// types do not break ingestion.
func ParseGarminPing(delivery Delivery) ([]Notification, error) {
	var payload map[string][]garminPingEntry
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		return nil, fmt.Errorf("webhooks: decode garmin ping: %w", err)
	}

	byAccount := map[string]map[core.Category]struct{}{}
	order := []string{}
	for key, entries := range payload {
		category, ok := garminSummaryCategories[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		for _, entry := range entries {
			account := strings.TrimSpace(entry.UserID)
			if account == "" {
				continue
			}
			if _, seen := byAccount[account]; !seen {
				byAccount[account] = map[core.Category]struct{}{}
				order = append(order, account)
			}
			byAccount[account][category] = struct{}{}
		}
	}

	notifications := make([]Notification, 0, len(order))
	for _, account := range order {
		categories := make([]core.Category, 0, len(byAccount[account]))
		for _, category := range core.Categories() {
			if _, ok := byAccount[account][category]; ok {
				categories = append(categories, category)
			}
		}
		notifications = append(notifications, Notification{
			ExternalAccountID: account,
			Categories:        categories,
		})
	}
	return notifications, nil
}

var ouraDataTypeCategories = map[string]core.Category{
	"daily_sleep":     core.CategorySleep,
	"sleep":           core.CategorySleep,
	"daily_activity":  core.CategoryActivity,
	"daily_readiness": core.CategoryReadiness,
}

type ouraEvent struct {
	EventType string `json:"event_type"`
	DataType  string `json:"data_type"`
	UserID    string `json:"user_id"`
}

// ParseOuraEvent reads the single-event body Oura posts per document
// change. Deletion events still trigger a sync so local summaries converge.
func ParseOuraEvent(delivery Delivery) ([]Notification, error) {
	var event ouraEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		return nil, fmt.Errorf("webhooks: decode oura event: %w", err)
	}
	account := strings.TrimSpace(event.UserID)
	if account == "" {
		return nil, fmt.Errorf("webhooks: oura event is missing user_id")
	}
	category, ok := ouraDataTypeCategories[strings.ToLower(strings.TrimSpace(event.DataType))]
	if !ok {
		// Unknown data types are acknowledged without scheduling anything.
		return nil, nil
	}
	return []Notification{{
		ExternalAccountID: account,
		Categories:        []core.Category{category},
	}}, nil
}

// DeliveryID prefers an explicit provider delivery header and falls back
// to a content hash, so retried identical payloads always dedupe.
func DeliveryID(delivery Delivery) string {
	for _, key := range []string{"x-delivery-id", "x-webhook-id", "x-oura-delivery-id"} {
		if value := headerValue(delivery.Headers, key); value != "" {
			return value
		}
	}
	sum := sha256.Sum256(delivery.Body)
	return hex.EncodeToString(sum[:])
}
