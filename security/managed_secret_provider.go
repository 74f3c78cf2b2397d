package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rebatewell/go-wearables/core"
)

type RemoteEncryptRequest struct {
	KeyID      string
	KeyVersion int
	Plaintext  []byte
	Metadata   map[string]string
}

type RemoteEncryptResponse struct {
	Ciphertext []byte
}

type RemoteDecryptRequest struct {
	KeyID      string
	KeyVersion int
	Ciphertext []byte
	Metadata   map[string]string
}

type RemoteDecryptResponse struct {
	Plaintext []byte
}

// RemoteKeyClient is the transport to an external key service (KMS, Vault
// transit, or similar). Credential plaintext crosses this boundary; raw key
// material never comes back.
type RemoteKeyClient interface {
	Encrypt(ctx context.Context, req RemoteEncryptRequest) (RemoteEncryptResponse, error)
	Decrypt(ctx context.Context, req RemoteDecryptRequest) (RemoteDecryptResponse, error)
}

type ManagedOption func(*ManagedSecretProvider)

// keyVersion identifies one version of a remote key. The label doubles as
// the map key for the decrypt allowlist and the rotation windows.
type keyVersion struct {
	id      string
	version int
}

func parseKeyVersion(keyID string, version int) (keyVersion, error) {
	id := strings.TrimSpace(keyID)
	switch {
	case id == "":
		return keyVersion{}, fmt.Errorf("security: managed key id is required")
	case version <= 0:
		return keyVersion{}, fmt.Errorf("security: managed key version %d is invalid", version)
	}
	return keyVersion{id: id, version: version}, nil
}

func (k keyVersion) label() string {
	return fmt.Sprintf("%s:%d", k.id, k.version)
}

// ManagedSecretProvider seals wearable credentials through a remote key
// service. One active key version encrypts; older versions stay on a
// decrypt-only allowlist so a rotation drains stored ciphertext gradually
// instead of re-sealing every integration at once.
type ManagedSecretProvider struct {
	client          RemoteKeyClient
	active          keyVersion
	decryptAllowed  map[string]keyVersion
	rotationWindows map[string]KeyRotationWindow
	allowAnyDecrypt bool
	metadata        map[string]string
	now             func() time.Time
}

func NewManagedSecretProvider(client RemoteKeyClient, keyID string, version int, opts ...ManagedOption) (*ManagedSecretProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("security: remote key client is required")
	}
	active, err := parseKeyVersion(keyID, version)
	if err != nil {
		return nil, err
	}
	provider := &ManagedSecretProvider{
		client:          client,
		active:          active,
		decryptAllowed:  map[string]keyVersion{active.label(): active},
		rotationWindows: map[string]KeyRotationWindow{},
		metadata:        map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.now == nil {
		provider.now = func() time.Time { return time.Now().UTC() }
	}
	return provider, nil
}

// WithDecryptCompatibilityKey allowlists a retired key version for decrypt
// only. Invalid references are ignored rather than widening the allowlist.
func WithDecryptCompatibilityKey(keyID string, version int) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider == nil {
			return
		}
		if ref, err := parseKeyVersion(keyID, version); err == nil {
			provider.decryptAllowed[ref.label()] = ref
		}
	}
}

func WithRotationWindow(keyID string, version int, window KeyRotationWindow) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider == nil {
			return
		}
		if ref, err := parseKeyVersion(keyID, version); err == nil {
			provider.rotationWindows[ref.label()] = window
		}
	}
}

// WithAllowAnyDecryptKey disables the allowlist check. Rotation windows
// still apply when configured.
func WithAllowAnyDecryptKey(allow bool) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider != nil {
			provider.allowAnyDecrypt = allow
		}
	}
}

func WithManagedMetadata(metadata map[string]string) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider != nil {
			provider.metadata = normalizeStringMap(metadata)
		}
	}
}

func WithManagedClock(now func() time.Time) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider != nil {
			provider.now = now
		}
	}
}

func (p *ManagedSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	if err := p.checkRotation(p.active); err != nil {
		return nil, err
	}

	sealed, err := p.client.Encrypt(ctx, RemoteEncryptRequest{
		KeyID:      p.active.id,
		KeyVersion: p.active.version,
		Plaintext:  append([]byte(nil), plaintext...),
		Metadata:   normalizeStringMap(p.metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("security: remote encrypt: %w", err)
	}
	if len(sealed.Ciphertext) == 0 {
		return nil, fmt.Errorf("security: remote encrypt returned empty ciphertext")
	}

	return encodeEnvelope(envelope{
		KeyID:      p.active.id,
		Version:    p.active.version,
		Algorithm:  envelopeAlgorithmManaged,
		Ciphertext: encodeCiphertextPayload(sealed.Ciphertext),
		Metadata:   normalizeStringMap(p.metadata),
	})
}

func (p *ManagedSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	env, _, err := decodeEnvelope(ciphertext, envelopeDecodeOptions{DefaultAlgorithm: envelopeAlgorithmManaged})
	if err != nil {
		return nil, err
	}
	if env.Algorithm != envelopeAlgorithmManaged {
		return nil, fmt.Errorf("security: envelope algorithm %q is not managed", env.Algorithm)
	}

	ref, err := parseKeyVersion(env.KeyID, env.Version)
	if err != nil {
		return nil, err
	}
	if !p.allowAnyDecrypt {
		if _, ok := p.decryptAllowed[ref.label()]; !ok {
			return nil, fmt.Errorf("security: key %s is not on the decrypt allowlist", ref.label())
		}
	}
	if err := p.checkRotation(ref); err != nil {
		return nil, err
	}

	payload, err := decodeCiphertextPayload(env.Ciphertext)
	if err != nil {
		return nil, err
	}
	opened, err := p.client.Decrypt(ctx, RemoteDecryptRequest{
		KeyID:      ref.id,
		KeyVersion: ref.version,
		Ciphertext: payload,
		Metadata:   normalizeStringMap(env.Metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("security: remote decrypt: %w", err)
	}
	if len(opened.Plaintext) == 0 {
		return nil, fmt.Errorf("security: remote decrypt returned empty plaintext")
	}
	return opened.Plaintext, nil
}

func (p *ManagedSecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.active.id
}

func (p *ManagedSecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.active.version
}

func (p *ManagedSecretProvider) Metadata() (string, int) {
	return p.KeyID(), p.Version()
}

func (p *ManagedSecretProvider) checkRotation(ref keyVersion) error {
	window, configured := p.rotationWindows[ref.label()]
	if !configured {
		return nil
	}
	now := p.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if !window.Allows(now()) {
		return fmt.Errorf("security: key %s is outside its rotation window", ref.label())
	}
	return nil
}

func normalizeStringMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	normalized := make(map[string]string, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		normalized[key] = strings.TrimSpace(value)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

var _ core.SecretProvider = (*ManagedSecretProvider)(nil)
