package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	CredentialPayloadFormatJSONV1 = "wearable_credential_json"
	CredentialPayloadVersionV1    = 1
)

type CredentialCodec interface {
	Format() string
	Version() int
	Encode(credential ActiveCredential) ([]byte, error)
	Decode(payload []byte) (ActiveCredential, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonCredentialPayload struct {
	TokenType         string         `json:"token_type,omitempty"`
	AccessToken       string         `json:"access_token,omitempty"`
	AccessTokenSecret string         `json:"access_token_secret,omitempty"`
	ExternalAccountID string         `json:"external_account_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (JSONCredentialCodec) Encode(credential ActiveCredential) ([]byte, error) {
	if strings.TrimSpace(credential.AccessToken) == "" {
		return nil, fmt.Errorf("core: credential access token is required")
	}
	payload := jsonCredentialPayload{
		TokenType:         strings.TrimSpace(credential.TokenType),
		AccessToken:       strings.TrimSpace(credential.AccessToken),
		AccessTokenSecret: strings.TrimSpace(credential.AccessTokenSecret),
		ExternalAccountID: strings.TrimSpace(credential.ExternalAccountID),
		Metadata:          copyAnyMap(credential.Metadata),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (ActiveCredential, error) {
	if len(payload) == 0 {
		return ActiveCredential{}, fmt.Errorf("%w: empty payload", ErrCredentialUnreadable)
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return ActiveCredential{}, fmt.Errorf("%w: %v", ErrCredentialUnreadable, err)
	}
	if strings.TrimSpace(decoded.AccessToken) == "" {
		return ActiveCredential{}, fmt.Errorf("%w: missing access token", ErrCredentialUnreadable)
	}
	return ActiveCredential{
		TokenType:         strings.TrimSpace(decoded.TokenType),
		AccessToken:       strings.TrimSpace(decoded.AccessToken),
		AccessTokenSecret: strings.TrimSpace(decoded.AccessTokenSecret),
		ExternalAccountID: strings.TrimSpace(decoded.ExternalAccountID),
		Metadata:          copyAnyMap(decoded.Metadata),
	}, nil
}

var _ CredentialCodec = JSONCredentialCodec{}
