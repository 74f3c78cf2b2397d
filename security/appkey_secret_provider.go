package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/rebatewell/go-wearables/core"
)

type Option func(*AppKeySecretProvider)

// AppKeySecretProvider seals credential payloads with a single application
// key using AES-256-GCM. Key material that is not already a valid AES key
// length is normalized through SHA-256.
type AppKeySecretProvider struct {
	key     []byte
	keyID   string
	version int
}

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		if id = strings.TrimSpace(id); id != "" {
			provider.keyID = id
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.version = version
		}
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	provider := &AppKeySecretProvider{
		key:     deriveAESKey(material),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}

	gcm, err := p.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}

	return encodeEnvelope(envelope{
		KeyID:      p.keyID,
		Version:    p.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: encodeCiphertextPayload(gcm.Seal(nil, nonce, plaintext, nil)),
	})
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}

	env, _, err := decodeEnvelope(ciphertext, envelopeDecodeOptions{
		AllowMissingPrefix: true,
		DefaultAlgorithm:   envelopeAlgorithm,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case env.Algorithm != envelopeAlgorithm:
		return nil, fmt.Errorf("security: unsupported envelope algorithm %q", env.Algorithm)
	case env.KeyID != "" && env.KeyID != p.keyID:
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", env.KeyID, p.keyID)
	case env.Version > 0 && env.Version != p.version:
		return nil, fmt.Errorf("security: key version mismatch: got %d want %d", env.Version, p.version)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("security: decode nonce: %w", err)
	}
	sealed, err := decodeCiphertextPayload(env.Ciphertext)
	if err != nil {
		return nil, err
	}

	gcm, err := p.aead()
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (p *AppKeySecretProvider) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.keyID
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.version
}

func (p *AppKeySecretProvider) Metadata() (string, int) {
	return p.KeyID(), p.Version()
}

// deriveAESKey passes through material already sized for AES and hashes
// everything else down to a 32-byte key.
func deriveAESKey(material []byte) []byte {
	switch len(material) {
	case 16, 24, 32:
		return append([]byte(nil), material...)
	}
	sum := sha256.Sum256(material)
	return sum[:]
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
