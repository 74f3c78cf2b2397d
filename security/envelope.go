// Package security provides the secret providers that seal wearable
// credential payloads before they reach the integration store. Every provider
// emits the same JSON envelope so ciphertext stays portable across backends.
package security

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	envelopePrefix           = "wearables.secret.v1:"
	envelopeAlgorithm        = "aes-256-gcm"
	envelopeAlgorithmManaged = "managed"
)

// envelope is the at-rest header around sealed credential bytes. The key id
// and version route decryption; the nonce is only present for local AES-GCM.
type envelope struct {
	KeyID      string            `json:"kid"`
	Version    int               `json:"ver"`
	Algorithm  string            `json:"alg"`
	Nonce      string            `json:"nonce,omitempty"`
	Ciphertext string            `json:"ciphertext"`
	Metadata   map[string]string `json:"meta,omitempty"`
}

type envelopeDecodeOptions struct {
	AllowMissingPrefix bool
	DefaultAlgorithm   string
}

type EnvelopeMetadata struct {
	HasPrefix bool
	KeyID     string
	Version   int
	Algorithm string
}

// ParseEnvelopeMetadata reads the envelope header without decrypting; callers
// use it to route ciphertext to the provider holding the right key.
func ParseEnvelopeMetadata(ciphertext []byte, allowMissingPrefix bool) (EnvelopeMetadata, error) {
	env, hasPrefix, err := decodeEnvelope(ciphertext, envelopeDecodeOptions{AllowMissingPrefix: allowMissingPrefix})
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{
		HasPrefix: hasPrefix,
		KeyID:     env.KeyID,
		Version:   env.Version,
		Algorithm: env.Algorithm,
	}, nil
}

func encodeEnvelope(env envelope) ([]byte, error) {
	env.normalize()
	encoded, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), encoded...), nil
}

func decodeEnvelope(ciphertext []byte, options envelopeDecodeOptions) (envelope, bool, error) {
	if len(ciphertext) == 0 {
		return envelope{}, false, fmt.Errorf("security: ciphertext is required")
	}

	payload := ciphertext
	hasPrefix := bytes.HasPrefix(ciphertext, []byte(envelopePrefix))
	switch {
	case hasPrefix:
		payload = ciphertext[len(envelopePrefix):]
	case !options.AllowMissingPrefix:
		return envelope{}, false, fmt.Errorf("security: ciphertext is missing the envelope prefix")
	}

	var parsed envelope
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return envelope{}, false, fmt.Errorf("security: decode envelope: %w", err)
	}
	parsed.normalize()
	if parsed.Algorithm == "" {
		parsed.Algorithm = strings.ToLower(strings.TrimSpace(options.DefaultAlgorithm))
	}
	if parsed.Ciphertext == "" {
		return envelope{}, false, fmt.Errorf("security: envelope has no ciphertext")
	}
	return parsed, hasPrefix, nil
}

func (e *envelope) normalize() {
	e.KeyID = strings.TrimSpace(e.KeyID)
	e.Algorithm = strings.ToLower(strings.TrimSpace(e.Algorithm))
	if len(e.Metadata) == 0 {
		return
	}
	metadata := make(map[string]string, len(e.Metadata))
	for key, value := range e.Metadata {
		if key = strings.TrimSpace(key); key != "" {
			metadata[key] = strings.TrimSpace(value)
		}
	}
	e.Metadata = metadata
}

func encodeCiphertextPayload(value []byte) string {
	if len(value) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(value)
}

func decodeCiphertextPayload(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("security: envelope has no ciphertext")
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("security: decode ciphertext payload: %w", err)
	}
	return decoded, nil
}
