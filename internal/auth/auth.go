// Package auth verifies bearer credentials against a rotating public-key
// set. Verification fails closed: a credential is never trusted until its
// signature and expiry have been checked against the current key set, and
// a key-source outage rejects the request rather than letting it through.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"stream-relay/pkg/models"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultFetchTimeout bounds the key-source fetch. It is deliberately
// short: a slow key source must surface as a fast auth rejection, not a
// hung request.
const DefaultFetchTimeout = 5 * time.Second

var (
	// ErrUnknownKeyID is returned when a credential references a key id
	// that the key source does not publish, even after a refresh.
	ErrUnknownKeyID = errors.New("credential references an unknown key id")

	// ErrKeySourceUnavailable is returned when the key set cannot be
	// fetched and no cached copy of the referenced key exists.
	ErrKeySourceUnavailable = errors.New("key source unavailable")
)

// jwk is one entry of the key source's published set. Only RSA signing
// keys are considered.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// KeySet caches the verification keys published at a configured URL,
// indexed by key id. Keys are fetched on demand and refreshed when a
// credential references an id that is not cached.
//
// The cache keeps its last known good keys: a failed refresh never
// invalidates keys that were fetched successfully before, so verification
// of credentials signed with already-known keys survives a key-source
// outage.
type KeySet struct {
	url    string
	client *http.Client

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey

	// refreshMu serializes refreshes so a burst of unknown-kid requests
	// performs one fetch, not one per request.
	refreshMu sync.Mutex
}

// NewKeySet creates a key cache backed by the given key-source URL.
func NewKeySet(url string, fetchTimeout time.Duration) *KeySet {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &KeySet{
		url:    url,
		client: &http.Client{Timeout: fetchTimeout},
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// Key returns the verification key for the given key id, refreshing the
// cached set once if the id is unknown.
func (ks *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	key, ok := ks.keys[kid]
	ks.mu.RUnlock()
	if ok {
		return key, nil
	}

	ks.refreshMu.Lock()
	defer ks.refreshMu.Unlock()

	// Another request may have refreshed while we waited for the lock.
	ks.mu.RLock()
	key, ok = ks.keys[kid]
	ks.mu.RUnlock()
	if ok {
		return key, nil
	}

	if err := ks.refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySourceUnavailable, err)
	}

	ks.mu.RLock()
	key, ok = ks.keys[kid]
	ks.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownKeyID
	}
	return key, nil
}

// refresh replaces the cached key set with the source's current one.
// Callers must hold refreshMu. On any failure the previous keys remain
// in place.
func (ks *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := ks.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key source returned %s", resp.Status)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to decode key set: %w", err)
	}

	fresh := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			// A single malformed entry must not poison the set.
			continue
		}
		fresh[k.Kid] = pub
	}

	if len(fresh) == 0 {
		return errors.New("key set contains no usable RSA signing keys")
	}

	ks.mu.Lock()
	ks.keys = fresh
	ks.mu.Unlock()
	return nil
}

// publicKey decodes the JWK's base64url modulus and exponent into an RSA
// public key.
func (k jwk) publicKey() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, errors.New("invalid public exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: e,
	}, nil
}

// tokenClaims is the JWT claim shape the relay understands.
type tokenClaims struct {
	jwt.RegisteredClaims
	Plan             string `json:"pla,omitempty"`
	StripeCustomerID string `json:"cus,omitempty"`
}

// Verifier validates bearer credentials using a KeySet.
type Verifier struct {
	keys *KeySet
}

// NewVerifier creates a Verifier backed by the given key cache.
func NewVerifier(keys *KeySet) *Verifier {
	return &Verifier{keys: keys}
}

// ExtractBearer pulls the bearer credential out of a request's
// Authorization header.
func ExtractBearer(r *http.Request) (string, *models.AuthError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &models.AuthError{Reason: models.AuthMissing}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", &models.AuthError{
			Reason: models.AuthMalformed,
			Err:    errors.New("authorization header is not a bearer credential"),
		}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", &models.AuthError{Reason: models.AuthMissing}
	}
	return token, nil
}

// Verify checks the credential's signature and expiry against the current
// key set and returns its claims. Every failure is a *models.AuthError;
// callers must reject the request before any streaming begins.
func (v *Verifier) Verify(ctx context.Context, credential string) (*models.Claims, *models.AuthError) {
	claims := &tokenClaims{}

	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("credential has no key id")
		}
		return v.keys.Key(ctx, kid)
	})

	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, &models.AuthError{Reason: models.AuthSignatureInvalid}
	}

	out := &models.Claims{
		Subject:          claims.Subject,
		Plan:             claims.Plan,
		StripeCustomerID: claims.StripeCustomerID,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out, nil
}

// classifyParseError maps jwt parse failures onto the relay's auth
// taxonomy. Key-source failures fail closed as signature-invalid: the
// signature could not be established, so the credential is not trusted.
func classifyParseError(err error) *models.AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &models.AuthError{Reason: models.AuthExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &models.AuthError{Reason: models.AuthMalformed, Err: err}
	default:
		return &models.AuthError{Reason: models.AuthSignatureInvalid, Err: err}
	}
}
