package license

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"licenseserver/internal/db"
)

// Audit actions.
const (
	ActionGenerate      = "generate"
	ActionGenerateTrial = "generate_trial"
	ActionActivate      = "activate"
	ActionToggle        = "toggle"
	ActionDelete        = "delete"
)

// Auditor receives one call per successful mutation.
type Auditor interface {
	Record(ctx context.Context, action, keyHash string, attrs map[string]any) error
}

// Engine implements the license key lifecycle on top of a KeyStore.
//
// Every operation re-reads the full collection; mutations write it back
// while holding the write lock, so concurrent Activate calls can never
// jointly exceed a key's activation ceiling.
type Engine struct {
	store db.KeyStore

	mu sync.RWMutex

	nowFn  func() time.Time
	random io.Reader
	log    *slog.Logger
	audit  Auditor
	strict bool
}

type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.nowFn = now }
}

// WithRandom overrides the entropy source used for key generation.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.random = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithAuditor records every successful mutation to a.
func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.audit = a }
}

// WithStrictActivation makes Activate reject expired and deactivated keys.
// By default only the activation ceiling is checked.
func WithStrictActivation(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

func New(store db.KeyStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		nowFn:  time.Now,
		random: rand.Reader,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate issues a key through the admin path.
func (e *Engine) Generate(ctx context.Context, p GenerateParams) (db.LicenseKey, error) {
	customer := strings.TrimSpace(p.CustomerName)
	if customer == "" {
		customer = DefaultCustomerName
	}
	keyType := strings.TrimSpace(p.KeyType)
	if keyType == "" {
		keyType = DefaultKeyType
	}
	duration := p.DurationDays
	if duration == 0 {
		duration = DefaultDurationDays
	}
	if duration < 0 || duration > MaxDurationDays {
		return db.LicenseKey{}, fmt.Errorf("%w: duration_days must be between 1 and %d", ErrValidation, MaxDurationDays)
	}
	maxAct := p.MaxActivations
	if maxAct == 0 {
		maxAct = DefaultMaxActivations
	}
	if maxAct < 0 {
		return db.LicenseKey{}, fmt.Errorf("%w: max_activations must be at least 1", ErrValidation)
	}
	prefix, err := PrefixFor(keyType)
	if err != nil {
		return db.LicenseKey{}, err
	}

	return e.issue(ctx, ActionGenerate, prefix, db.LicenseKey{
		CustomerName:   customer,
		DurationDays:   duration,
		KeyType:        keyType,
		MaxActivations: maxAct,
	})
}

// GenerateTrial issues a key through the unauthenticated trial path:
// seven days, one activation, prefix TRL.
func (e *Engine) GenerateTrial(ctx context.Context, customerName string) (db.LicenseKey, error) {
	customer := strings.TrimSpace(customerName)
	if customer == "" {
		customer = TrialCustomerName
	}
	return e.issue(ctx, ActionGenerateTrial, TrialPrefix, db.LicenseKey{
		CustomerName:    customer,
		DurationDays:    TrialDurationDays,
		KeyType:         TrialKeyType,
		MaxActivations:  TrialMaxActivations,
		PublicGenerated: true,
	})
}

func (e *Engine) issue(ctx context.Context, action, prefix string, rec db.LicenseKey) (db.LicenseKey, error) {
	token, err := NewToken(e.random, prefix)
	if err != nil {
		return db.LicenseKey{}, fmt.Errorf("generate license key: %w", err)
	}

	now := e.nowFn().UTC()
	rec.Key = token
	rec.KeyHash = HashKey(token)
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(time.Duration(rec.DurationDays) * 24 * time.Hour)
	rec.Status = db.StatusActive
	rec.Activations = 0

	e.mu.Lock()
	defer e.mu.Unlock()

	keys := e.store.LoadAll(ctx)
	keys = append(keys, rec)
	if err := e.store.SaveAll(ctx, keys); err != nil {
		return db.LicenseKey{}, fmt.Errorf("persist license key: %w", err)
	}

	e.log.Info("license key generated",
		"key_hash", rec.KeyHash,
		"key_type", rec.KeyType,
		"duration_days", rec.DurationDays,
		"max_activations", rec.MaxActivations,
		"public", rec.PublicGenerated,
	)
	e.record(ctx, action, rec.KeyHash, map[string]any{
		"customer_name":   rec.CustomerName,
		"key_type":        rec.KeyType,
		"expires_at":      rec.ExpiresAt,
		"max_activations": rec.MaxActivations,
	})

	return rec, nil
}

// Verify evaluates rawKey. The first failing check wins: key required,
// not found, expired, deactivated, activation limit reached.
func (e *Engine) Verify(ctx context.Context, rawKey string) VerificationResult {
	key := strings.TrimSpace(rawKey)
	if key == "" {
		return VerificationResult{Reason: ReasonKeyRequired}
	}
	hash := HashKey(key)

	e.mu.RLock()
	keys := e.store.LoadAll(ctx)
	e.mu.RUnlock()

	i := indexOf(keys, hash)
	if i < 0 {
		return VerificationResult{Reason: ReasonNotFound}
	}
	return e.evaluate(keys[i])
}

func (e *Engine) evaluate(rec db.LicenseKey) VerificationResult {
	switch {
	case e.nowFn().After(rec.ExpiresAt):
		return VerificationResult{Reason: ReasonExpired, Expired: true}
	case rec.Status != db.StatusActive:
		return VerificationResult{Reason: ReasonDeactivated}
	case rec.Activations >= rec.MaxActivations:
		return VerificationResult{Reason: ReasonLimitReached}
	}
	return VerificationResult{
		Valid:          true,
		Reason:         ReasonValid,
		CustomerName:   rec.CustomerName,
		KeyType:        rec.KeyType,
		ExpiresAt:      rec.ExpiresAt,
		Activations:    rec.Activations,
		MaxActivations: rec.MaxActivations,
	}
}

// Activate consumes one activation of rawKey. Unless strict activation is
// enabled, status and expiry are not consulted.
func (e *Engine) Activate(ctx context.Context, rawKey string) (ActivationResult, error) {
	key := strings.TrimSpace(rawKey)
	if key == "" {
		return ActivationResult{}, fmt.Errorf("%w: license key is required", ErrValidation)
	}
	hash := HashKey(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	keys := e.store.LoadAll(ctx)
	i := indexOf(keys, hash)
	if i < 0 {
		return ActivationResult{}, fmt.Errorf("activate: %w", ErrNotFound)
	}
	rec := &keys[i]
	res := ActivationResult{Activations: rec.Activations, MaxActivations: rec.MaxActivations}

	if e.strict {
		if e.nowFn().After(rec.ExpiresAt) {
			return res, fmt.Errorf("activate: %w", ErrExpired)
		}
		if rec.Status != db.StatusActive {
			return res, fmt.Errorf("activate: %w", ErrDeactivated)
		}
	}
	if rec.Activations >= rec.MaxActivations {
		return res, fmt.Errorf("activate: %w", ErrLimitExceeded)
	}

	rec.Activations++
	if err := e.store.SaveAll(ctx, keys); err != nil {
		return ActivationResult{}, fmt.Errorf("persist activation: %w", err)
	}
	res.Activations = rec.Activations

	e.log.Info("license key activated", "key_hash", hash, "activations", rec.Activations, "max_activations", rec.MaxActivations)
	e.record(ctx, ActionActivate, hash, map[string]any{
		"activations":     rec.Activations,
		"max_activations": rec.MaxActivations,
	})

	return res, nil
}

// ListMasked returns every record with its key masked.
func (e *Engine) ListMasked(ctx context.Context) []MaskedKey {
	e.mu.RLock()
	keys := e.store.LoadAll(ctx)
	e.mu.RUnlock()

	out := make([]MaskedKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, mask(k))
	}
	return out
}

// Get returns the masked record for keyHash.
func (e *Engine) Get(ctx context.Context, keyHash string) (MaskedKey, error) {
	hash, err := normalizeHash(keyHash)
	if err != nil {
		return MaskedKey{}, err
	}

	e.mu.RLock()
	keys := e.store.LoadAll(ctx)
	e.mu.RUnlock()

	i := indexOf(keys, hash)
	if i < 0 {
		return MaskedKey{}, fmt.Errorf("get %s: %w", hash, ErrNotFound)
	}
	return mask(keys[i]), nil
}

// Delete removes every record matching keyHash. A miss is not an error.
func (e *Engine) Delete(ctx context.Context, keyHash string) error {
	hash, err := normalizeHash(keyHash)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	keys := e.store.LoadAll(ctx)
	kept := keys[:0]
	for _, k := range keys {
		if k.KeyHash != hash {
			kept = append(kept, k)
		}
	}
	removed := len(keys) - len(kept)
	if removed == 0 {
		return nil
	}
	if err := e.store.SaveAll(ctx, kept); err != nil {
		return fmt.Errorf("persist delete: %w", err)
	}

	e.log.Info("license key deleted", "key_hash", hash, "removed", removed)
	e.record(ctx, ActionDelete, hash, map[string]any{"removed": removed})
	return nil
}

// Toggle flips the status of the record matching keyHash and returns the
// new status.
func (e *Engine) Toggle(ctx context.Context, keyHash string) (db.Status, error) {
	hash, err := normalizeHash(keyHash)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	keys := e.store.LoadAll(ctx)
	i := indexOf(keys, hash)
	if i < 0 {
		return "", fmt.Errorf("toggle %s: %w", hash, ErrNotFound)
	}

	rec := &keys[i]
	if rec.Status == db.StatusActive {
		rec.Status = db.StatusInactive
	} else {
		rec.Status = db.StatusActive
	}
	if err := e.store.SaveAll(ctx, keys); err != nil {
		return "", fmt.Errorf("persist toggle: %w", err)
	}

	e.log.Info("license key toggled", "key_hash", hash, "status", rec.Status)
	e.record(ctx, ActionToggle, hash, map[string]any{"status": string(rec.Status)})
	return rec.Status, nil
}

func (e *Engine) record(ctx context.Context, action, hash string, attrs map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, action, hash, attrs); err != nil {
		e.log.Warn("failed to record audit event", "action", action, "key_hash", hash, "error", err)
	}
}

func indexOf(keys []db.LicenseKey, hash string) int {
	for i := range keys {
		if keys[i].KeyHash == hash {
			return i
		}
	}
	return -1
}

func normalizeHash(h string) (string, error) {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return "", fmt.Errorf("%w: key hash is required", ErrValidation)
	}
	return h, nil
}

func mask(k db.LicenseKey) MaskedKey {
	k.Key = MaskKey(k.Key)
	return MaskedKey{LicenseKey: k}
}
