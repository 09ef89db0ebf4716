// Package auth issues and verifies the gateway's own bearer tokens.
//
// Token form: "sk_<id>.<secret>" where id is 32 hex chars and secret is 64 hex
// chars. Only the id and a salted SHA-256 digest of the secret are persisted;
// the plaintext secret leaves Generate exactly once. A write-through in-memory
// cache keeps verification off the durable backend on the hot path.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Verification failure modes. Verify never reports which of these applies to
// callers that only need pass/fail; the HTTP layer maps them to responses.
var (
	ErrInvalidToken   = errors.New("invalid token format")
	ErrKeyNotFound    = errors.New("api key not found")
	ErrKeyRevoked     = errors.New("api key revoked")
	ErrKeyExpired     = errors.New("api key expired")
	ErrDigestMismatch = errors.New("api key digest mismatch")
	// ErrExpirationRequired reports the creation-time expiration policy.
	ErrExpirationRequired = errors.New("expiration required: provide ttl_seconds or expires_at, or configure a default TTL")
	// ErrStoreUnavailable wraps backend I/O failures during verification.
	ErrStoreUnavailable = errors.New("key store unavailable")
)

// Record is the persisted shape of an API key.
type Record struct {
	ID        string     `json:"id"`
	Label     *string    `json:"label,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	SaltHex   string     `json:"salt_hex"`
	HashHex   string     `json:"hash_hex"`
	Scopes    []string   `json:"scopes,omitempty"`
}

// KeyInfo is the metadata view returned by List; it never carries the digest.
type KeyInfo struct {
	ID        string     `json:"id"`
	Label     *string    `json:"label,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"`
}

// GeneratedKey is the one-time result of Generate including the bearer token.
type GeneratedKey struct {
	ID        string     `json:"id"`
	Token     string     `json:"token"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Label     *string    `json:"label,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"`
}

// Identity is the successful verification result.
type Identity struct {
	ID        string
	Label     *string
	ExpiresAt *time.Time
	Scopes    []string
}

// Store is the durable backend contract. Implementations must make Put
// atomic per id; ordering of mutations per id is the backend's totally
// ordered history.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	Purge(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Policy holds the creation-time expiration rules.
type Policy struct {
	RequireExpiration bool
	AllowNoExpiration bool
	DefaultTTL        time.Duration
}

// Manager fronts a Store with an eagerly loaded write-through cache.
type Manager struct {
	store  Store
	policy Policy
	logger *log.Logger

	mu    sync.RWMutex
	cache map[string]*Record // nil when the cache is disabled
}

// Options configures manager construction.
type Options struct {
	Policy       Policy
	DisableCache bool
	Logger       *log.Logger
}

// NewManager builds a manager over the given store. Unless disabled, the full
// record set is loaded into memory up front; a failed preload degrades to
// per-call backend reads rather than refusing to start.
func NewManager(store Store, opts Options) *Manager {
	m := &Manager{store: store, policy: opts.Policy, logger: opts.Logger}
	if !opts.DisableCache {
		records, err := store.List(context.Background())
		if err != nil {
			m.logf("api key cache preload failed, continuing without cache: %v", err)
		} else {
			cache := make(map[string]*Record, len(records))
			for _, rec := range records {
				cache[rec.ID] = rec
			}
			m.cache = cache
			m.logf("api key cache warmed with %d entries", len(records))
		}
	}
	return m
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// Generate creates a new key. Expiration precedence: expiresAt > ttl > policy
// default; if the policy requires expiration and none results, the call fails.
func (m *Manager) Generate(ctx context.Context, label *string, ttl time.Duration, expiresAt *time.Time, scopes []string) (*GeneratedKey, error) {
	now := time.Now().UTC()

	var expiry *time.Time
	switch {
	case expiresAt != nil:
		if !expiresAt.After(now) {
			return nil, errors.New("expires_at must be in the future")
		}
		e := expiresAt.UTC()
		expiry = &e
	case ttl > 0:
		e := now.Add(ttl)
		expiry = &e
	case m.policy.DefaultTTL > 0:
		e := now.Add(m.policy.DefaultTTL)
		expiry = &e
	}
	if expiry == nil && m.policy.RequireExpiration && !m.policy.AllowNoExpiration {
		return nil, ErrExpirationRequired
	}

	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	secretHex := hex.EncodeToString(secret)

	rec := &Record{
		ID:        id,
		Label:     label,
		CreatedAt: now,
		ExpiresAt: expiry,
		SaltHex:   hex.EncodeToString(salt),
		HashHex:   digestHex(salt, secret),
		Scopes:    scopes,
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}
	m.cacheUpsert(rec)

	return &GeneratedKey{
		ID:        id,
		Token:     "sk_" + id + "." + secretHex,
		CreatedAt: now,
		ExpiresAt: expiry,
		Label:     label,
		Scopes:    scopes,
	}, nil
}

// Verify checks a bearer token. The digest comparison is constant time; the
// revoked/expired checks are independent of cache state because mutations
// write through before updating the cache.
func (m *Manager) Verify(ctx context.Context, token string) (*Identity, error) {
	id, secretHex, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	rec := m.cacheLookup(id)
	if rec == nil {
		rec, err = m.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if rec == nil {
			return nil, ErrKeyNotFound
		}
		m.cacheUpsert(rec)
	}

	now := time.Now().UTC()
	if rec.RevokedAt != nil {
		return nil, ErrKeyRevoked
	}
	if rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
		return nil, ErrKeyExpired
	}

	salt, err := hex.DecodeString(rec.SaltHex)
	if err != nil {
		return nil, ErrDigestMismatch
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, ErrInvalidToken
	}
	expected, err := hex.DecodeString(rec.HashHex)
	if err != nil {
		return nil, ErrDigestMismatch
	}
	actual, err := hex.DecodeString(digestHex(salt, secret))
	if err != nil || subtle.ConstantTimeCompare(actual, expected) != 1 {
		return nil, ErrDigestMismatch
	}

	return &Identity{ID: rec.ID, Label: rec.Label, ExpiresAt: rec.ExpiresAt, Scopes: rec.Scopes}, nil
}

// VerifyBearer strips an Authorization header value before verifying.
func (m *Manager) VerifyBearer(ctx context.Context, header string) (*Identity, error) {
	token, ok := BearerToken(header)
	if !ok {
		return nil, ErrInvalidToken
	}
	return m.Verify(ctx, token)
}

// Revoke marks the key revoked. Returns false when the key was already
// revoked or does not exist.
func (m *Manager) Revoke(ctx context.Context, id string) (bool, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if rec.RevokedAt != nil {
		m.cacheUpsert(rec)
		return false, nil
	}
	now := time.Now().UTC()
	rec.RevokedAt = &now
	if err := m.store.Put(ctx, rec); err != nil {
		return false, err
	}
	m.cacheUpsert(rec)
	return true, nil
}

// SetExpiration replaces the key's expiry; nil clears it.
func (m *Manager) SetExpiration(ctx context.Context, id string, expiresAt *time.Time) (bool, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if expiresAt != nil {
		e := expiresAt.UTC()
		rec.ExpiresAt = &e
	} else {
		rec.ExpiresAt = nil
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return false, err
	}
	m.cacheUpsert(rec)
	return true, nil
}

// List returns metadata for all keys, preferring the cache snapshot.
func (m *Manager) List(ctx context.Context) ([]KeyInfo, error) {
	m.mu.RLock()
	if m.cache != nil {
		out := make([]KeyInfo, 0, len(m.cache))
		for _, rec := range m.cache {
			out = append(out, infoOf(rec))
		}
		m.mu.RUnlock()
		return out, nil
	}
	m.mu.RUnlock()

	records, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]KeyInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, infoOf(rec))
	}
	return out, nil
}

// Purge removes keys expired or revoked at or before cutoff from the backend
// and the cache.
func (m *Manager) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	removed, err := m.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	if m.cache != nil {
		for id, rec := range m.cache {
			if recordStale(rec, cutoff) {
				delete(m.cache, id)
			}
		}
	}
	m.mu.Unlock()
	return removed, nil
}

func (m *Manager) cacheLookup(id string) *Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cache == nil {
		return nil
	}
	return m.cache[id]
}

func (m *Manager) cacheUpsert(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		return
	}
	cp := *rec
	m.cache[rec.ID] = &cp
}

func infoOf(rec *Record) KeyInfo {
	return KeyInfo{
		ID:        rec.ID,
		Label:     rec.Label,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		RevokedAt: rec.RevokedAt,
		Scopes:    rec.Scopes,
	}
}

func recordStale(rec *Record, cutoff time.Time) bool {
	if rec.ExpiresAt != nil && !rec.ExpiresAt.After(cutoff) {
		return true
	}
	if rec.RevokedAt != nil && !rec.RevokedAt.After(cutoff) {
		return true
	}
	return false
}

func digestHex(salt, secret []byte) string {
	h := sha256.New()
	h.Write(salt)
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}

// ParseToken splits "sk_<id>.<secret>" into its parts, validating shape.
func ParseToken(token string) (id, secretHex string, err error) {
	rest, ok := strings.CutPrefix(token, "sk_")
	if !ok {
		return "", "", ErrInvalidToken
	}
	id, secretHex, ok = strings.Cut(rest, ".")
	if !ok {
		return "", "", ErrInvalidToken
	}
	if len(id) != 32 || !isHex(id) {
		return "", "", ErrInvalidToken
	}
	if len(secretHex) < 32 || !isHex(secretHex) {
		return "", "", ErrInvalidToken
	}
	return id, secretHex, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	s := strings.TrimSpace(header)
	if len(s) < 7 || !strings.EqualFold(s[:6], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(s[6:])
	if token == "" {
		return "", false
	}
	return token, true
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
