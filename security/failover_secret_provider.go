package security

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rebatewell/go-wearables/core"
)

type SecretProviderFailurePolicy string

const (
	SecretProviderFailurePolicyStrict   SecretProviderFailurePolicy = "strict_fail"
	SecretProviderFailurePolicyFallback SecretProviderFailurePolicy = "fallback_allowed"
)

// SecretProviderDiagnostic reports one sealing failure or recovery. The
// error text is included verbatim; credential plaintext never is.
type SecretProviderDiagnostic struct {
	OccurredAt time.Time
	Operation  string
	Policy     SecretProviderFailurePolicy
	Outcome    string
	Primary    string
	Fallback   string
	Error      string
}

type SecretProviderDiagnosticHook func(event SecretProviderDiagnostic)

type FailoverOption func(*FailoverSecretProvider)

// FailoverSecretProvider fronts credential sealing with a primary provider
// and an optional standby. Under the strict policy a primary failure is the
// caller's failure; under the fallback policy the standby takes over and the
// switch is reported through the diagnostic hook.
type FailoverSecretProvider struct {
	primary     core.SecretProvider
	fallback    core.SecretProvider
	policy      SecretProviderFailurePolicy
	diagnostics SecretProviderDiagnosticHook
	now         func() time.Time

	mu          sync.RWMutex
	lastSealKey string
	lastSealVer int
}

func NewFailoverSecretProvider(primary core.SecretProvider, opts ...FailoverOption) (*FailoverSecretProvider, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary secret provider is required")
	}
	provider := &FailoverSecretProvider{
		primary: primary,
		policy:  SecretProviderFailurePolicyStrict,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	provider.policy = normalizeFailurePolicy(provider.policy)
	if provider.policy == SecretProviderFailurePolicyFallback && provider.fallback == nil {
		return nil, fmt.Errorf("security: fallback policy requires a fallback secret provider")
	}
	if provider.now == nil {
		provider.now = func() time.Time { return time.Now().UTC() }
	}
	provider.noteSealKey(provider.primary)
	return provider, nil
}

func WithFallbackSecretProvider(provider core.SecretProvider) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f != nil {
			f.fallback = provider
		}
	}
}

func WithSecretProviderFailurePolicy(policy SecretProviderFailurePolicy) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f != nil {
			f.policy = normalizeFailurePolicy(policy)
		}
	}
}

func WithSecretProviderDiagnostics(hook SecretProviderDiagnosticHook) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f != nil {
			f.diagnostics = hook
		}
	}
}

func WithFailoverClock(now func() time.Time) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f != nil {
			f.now = now
		}
	}
}

func (p *FailoverSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	result, usedFallback, err := p.attempt(ctx, "encrypt", func(provider core.SecretProvider) ([]byte, error) {
		return provider.Encrypt(ctx, plaintext)
	})
	if err != nil {
		return nil, err
	}
	if usedFallback {
		p.noteSealKey(p.fallback)
	} else {
		p.noteSealKey(p.primary)
	}
	return result, nil
}

func (p *FailoverSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: ciphertext is required")
	}
	result, _, err := p.attempt(ctx, "decrypt", func(provider core.SecretProvider) ([]byte, error) {
		return provider.Decrypt(ctx, ciphertext)
	})
	return result, err
}

// attempt runs the operation against the primary and, when policy allows,
// retries the fallback. The bool reports which provider produced the result.
func (p *FailoverSecretProvider) attempt(
	_ context.Context,
	operation string,
	run func(core.SecretProvider) ([]byte, error),
) ([]byte, bool, error) {
	result, primaryErr := run(p.primary)
	if primaryErr == nil {
		return result, false, nil
	}
	p.emit(operation, "primary_failed", primaryErr)

	if p.policy == SecretProviderFailurePolicyStrict || p.fallback == nil {
		return nil, false, fmt.Errorf("security: primary %s failed with %s policy: %w", operation, p.policy, primaryErr)
	}

	result, fallbackErr := run(p.fallback)
	if fallbackErr != nil {
		p.emit(operation, "fallback_failed", fallbackErr)
		return nil, false, fmt.Errorf("security: primary %s failed: %v; fallback %s failed: %w",
			operation, primaryErr, operation, fallbackErr)
	}
	p.emit(operation, "fallback_succeeded", primaryErr)
	return result, true, nil
}

// Metadata reports the key that sealed the most recent encryption, falling
// back to whichever provider can describe itself.
func (p *FailoverSecretProvider) Metadata() (string, int) {
	if p == nil {
		return "", 0
	}
	p.mu.RLock()
	keyID, version := p.lastSealKey, p.lastSealVer
	p.mu.RUnlock()
	if keyID != "" && version > 0 {
		return keyID, version
	}
	for _, provider := range []core.SecretProvider{p.primary, p.fallback} {
		if keyID, version, ok := readProviderMetadata(provider); ok {
			return keyID, version
		}
	}
	return "", 0
}

func (p *FailoverSecretProvider) emit(operation string, outcome string, cause error) {
	if p == nil || p.diagnostics == nil {
		return
	}
	now := p.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	event := SecretProviderDiagnostic{
		OccurredAt: now().UTC(),
		Operation:  operation,
		Policy:     p.policy,
		Outcome:    outcome,
		Primary:    describeSecretProvider(p.primary),
		Fallback:   describeSecretProvider(p.fallback),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	p.diagnostics(event)
}

func (p *FailoverSecretProvider) noteSealKey(provider core.SecretProvider) {
	keyID, version, ok := readProviderMetadata(provider)
	if !ok {
		return
	}
	p.mu.Lock()
	p.lastSealKey, p.lastSealVer = keyID, version
	p.mu.Unlock()
}

func normalizeFailurePolicy(policy SecretProviderFailurePolicy) SecretProviderFailurePolicy {
	if SecretProviderFailurePolicy(strings.ToLower(strings.TrimSpace(string(policy)))) == SecretProviderFailurePolicyFallback {
		return SecretProviderFailurePolicyFallback
	}
	return SecretProviderFailurePolicyStrict
}

func readProviderMetadata(provider core.SecretProvider) (string, int, bool) {
	if provider == nil {
		return "", 0, false
	}
	described, ok := provider.(interface{ Metadata() (string, int) })
	if !ok {
		return "", 0, false
	}
	keyID, version := described.Metadata()
	keyID = strings.TrimSpace(keyID)
	if keyID == "" || version <= 0 {
		return "", 0, false
	}
	return keyID, version, true
}

func describeSecretProvider(provider core.SecretProvider) string {
	if provider == nil {
		return ""
	}
	label := reflect.TypeOf(provider).String()
	if keyID, version, ok := readProviderMetadata(provider); ok {
		return fmt.Sprintf("%s(%s:%d)", label, keyID, version)
	}
	return label
}

var _ core.SecretProvider = (*FailoverSecretProvider)(nil)
