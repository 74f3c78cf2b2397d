package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/rebatewell/go-wearables/core"
	"github.com/rebatewell/go-wearables/sync"
)

type connectPayload struct {
	AuthorizeURL string `json:"authorize_url"`
	SessionNonce string `json:"session_nonce"`
}

type connectTokenRequest struct {
	MemberID string `json:"member_id"`
	Token    string `json:"token"`
}

// integrationPayload exposes the integration record without its credential
// material. The encrypted payload never leaves the store layer over HTTP.
type integrationPayload struct {
	ID         string     `json:"id"`
	MemberID   string     `json:"member_id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	LastError  string     `json:"last_error,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type integrationListPayload struct {
	Integrations []integrationPayload `json:"integrations"`
}

type syncSummaryPayload struct {
	AvgSleepScore       *int `json:"avg_sleep_score"`
	TotalSteps          int  `json:"total_steps"`
	AvgSteps            int  `json:"avg_steps"`
	TotalActiveCalories int  `json:"total_active_calories"`
	AvgReadinessScore   *int `json:"avg_readiness_score"`
}

type syncRunPayload struct {
	Connected      bool               `json:"connected"`
	Source         string             `json:"source"`
	MemberID       string             `json:"member_id"`
	RangeStart     string             `json:"range_start"`
	RangeEnd       string             `json:"range_end"`
	SleepCount     int                `json:"sleep_count"`
	ActivityCount  int                `json:"activity_count"`
	ReadinessCount int                `json:"readiness_count"`
	Unavailable    map[string]string  `json:"unavailable,omitempty"`
	Summary        syncSummaryPayload `json:"summary"`
	SyncedAt       time.Time          `json:"synced_at"`
}

type syncAuditPayload struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	RangeStart  string            `json:"range_start"`
	RangeEnd    string            `json:"range_end"`
	Categories  []string          `json:"categories"`
	Unavailable map[string]string `json:"unavailable,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

type syncAuditListPayload struct {
	Entries []syncAuditPayload `json:"entries"`
}

type webhookPayload struct {
	Accepted   bool   `json:"accepted"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Deduped    bool   `json:"deduped,omitempty"`
	Syncs      int    `json:"syncs"`
	Skipped    int    `json:"skipped"`
}

type errorBody struct {
	Message  string `json:"message"`
	TextCode string `json:"text_code"`
}

type errorPayload struct {
	Error errorBody `json:"error"`
}

func toIntegrationPayload(integration core.Integration) integrationPayload {
	return integrationPayload{
		ID:         integration.ID,
		MemberID:   integration.MemberID,
		Source:     string(integration.Source),
		Status:     string(integration.Status),
		LastError:  integration.LastError,
		LastSyncAt: integration.LastSyncAt,
		CreatedAt:  integration.CreatedAt,
		UpdatedAt:  integration.UpdatedAt,
	}
}

func toSyncRunPayload(result sync.Result) syncRunPayload {
	var unavailable map[string]string
	if len(result.Unavailable) > 0 {
		unavailable = make(map[string]string, len(result.Unavailable))
		for category, reason := range result.Unavailable {
			unavailable[string(category)] = reason
		}
	}
	return syncRunPayload{
		Connected:      result.Connected,
		Source:         string(result.Source),
		MemberID:       result.MemberID,
		RangeStart:     result.RangeStart,
		RangeEnd:       result.RangeEnd,
		SleepCount:     len(result.Sleep),
		ActivityCount:  len(result.Activity),
		ReadinessCount: len(result.Readiness),
		Unavailable:    unavailable,
		Summary: syncSummaryPayload{
			AvgSleepScore:       result.Summary.AvgSleepScore,
			TotalSteps:          result.Summary.TotalSteps,
			AvgSteps:            result.Summary.AvgSteps,
			TotalActiveCalories: result.Summary.TotalActiveCalories,
			AvgReadinessScore:   result.Summary.AvgReadinessScore,
		},
		SyncedAt: result.SyncedAt,
	}
}

func toSyncAuditPayload(entry core.SyncAuditEntry) syncAuditPayload {
	return syncAuditPayload{
		ID:          entry.ID,
		Source:      string(entry.Source),
		RangeStart:  entry.RangeStart,
		RangeEnd:    entry.RangeEnd,
		Categories:  entry.Categories,
		Unavailable: entry.Unavailable,
		StartedAt:   entry.StartedAt,
		FinishedAt:  entry.FinishedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorPayload(w http.ResponseWriter, status int, textCode string, message string) {
	writeJSON(w, status, errorPayload{Error: errorBody{
		Message:  message,
		TextCode: textCode,
	}})
}

// writeError relies on the facade's error envelope: rich errors carry both
// an HTTP status and a stable text code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	textCode := core.ServiceErrorInternal
	message := "An unexpected error occurred"

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Code > 0 {
			status = rich.Code
		}
		if strings.TrimSpace(rich.TextCode) != "" {
			textCode = rich.TextCode
		}
		if strings.TrimSpace(rich.Message) != "" {
			message = rich.Message
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).Error("request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err.Error(),
		)
	}
	writeErrorPayload(w, status, textCode, message)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeErrorPayload(w, http.StatusBadRequest, core.ServiceErrorBadInput, "invalid request body")
		return false
	}
	return true
}

func parseLimit(raw string) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	limit, err := strconv.Atoi(trimmed)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
