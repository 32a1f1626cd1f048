package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stream-relay/pkg/models"

	"github.com/golang-jwt/jwt/v4"
)

// testKey is an RSA keypair with a fixed key id for building fixtures.
type testKey struct {
	kid  string
	priv *rsa.PrivateKey
}

func newTestKey(t *testing.T, kid string) *testKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return &testKey{kid: kid, priv: priv}
}

// jwksJSON renders the given keys as a key-source response.
func jwksJSON(t *testing.T, keys ...*testKey) []byte {
	t.Helper()
	set := jwkSet{}
	for _, k := range keys {
		pub := &k.priv.PublicKey
		set.Keys = append(set.Keys, jwk{
			Kty: "RSA",
			Kid: k.kid,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to marshal key set: %v", err)
	}
	return b
}

// sign builds a credential signed by the key, with the given claims.
func (k *testKey) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.kid
	signed, err := token.SignedString(k.priv)
	if err != nil {
		t.Fatalf("failed to sign test credential: %v", err)
	}
	return signed
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": sub,
		"pla": "u:premium_subscription",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func jwksServer(t *testing.T, keys ...*testKey) (*httptest.Server, *int32) {
	t.Helper()
	var fetches int32
	body := jwksJSON(t, keys...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func TestVerify(t *testing.T) {
	key := newTestKey(t, "key-1")
	otherKey := newTestKey(t, "key-1") // same kid, different key material
	srv, _ := jwksServer(t, key)
	verifier := NewVerifier(NewKeySet(srv.URL, 0))

	tests := []struct {
		name       string
		credential string
		wantReason models.AuthReason
	}{
		{
			name:       "valid credential",
			credential: key.sign(t, validClaims("user-1")),
		},
		{
			name:       "expired credential",
			credential: key.sign(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantReason: models.AuthExpired,
		},
		{
			name:       "malformed credential",
			credential: "not.a.token",
			wantReason: models.AuthMalformed,
		},
		{
			name:       "garbage credential",
			credential: "garbage",
			wantReason: models.AuthMalformed,
		},
		{
			name:       "signed by the wrong key",
			credential: otherKey.sign(t, validClaims("user-1")),
			wantReason: models.AuthSignatureInvalid,
		},
		{
			name:       "unknown key id",
			credential: newTestKey(t, "key-unknown").sign(t, validClaims("user-1")),
			wantReason: models.AuthSignatureInvalid,
		},
		{
			name: "no key id in header",
			credential: func() string {
				token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("user-1"))
				signed, err := token.SignedString(key.priv)
				if err != nil {
					t.Fatalf("failed to sign: %v", err)
				}
				return signed
			}(),
			wantReason: models.AuthSignatureInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, aerr := verifier.Verify(context.Background(), tt.credential)
			if tt.wantReason == "" {
				if aerr != nil {
					t.Fatalf("Verify() unexpected error: %v", aerr)
				}
				if claims.Subject != "user-1" {
					t.Errorf("Verify() Subject = %q, want %q", claims.Subject, "user-1")
				}
				if claims.Plan != "u:premium_subscription" {
					t.Errorf("Verify() Plan = %q, want %q", claims.Plan, "u:premium_subscription")
				}
				return
			}
			if aerr == nil {
				t.Fatal("Verify() expected an error")
			}
			if aerr.Reason != tt.wantReason {
				t.Errorf("Verify() reason = %q, want %q", aerr.Reason, tt.wantReason)
			}
		})
	}
}

func TestVerifyFailsClosedWhenKeySourceDown(t *testing.T) {
	key := newTestKey(t, "key-1")
	srv, _ := jwksServer(t, key)
	srv.Close() // key source unreachable from the start

	verifier := NewVerifier(NewKeySet(srv.URL, time.Second))
	_, aerr := verifier.Verify(context.Background(), key.sign(t, validClaims("user-1")))
	if aerr == nil {
		t.Fatal("Verify() expected an error with the key source down")
	}
	if aerr.Reason != models.AuthSignatureInvalid {
		t.Errorf("Verify() reason = %q, want %q", aerr.Reason, models.AuthSignatureInvalid)
	}
}

func TestKeySetRetainsLastKnownGood(t *testing.T) {
	key := newTestKey(t, "key-1")
	srv, fetches := jwksServer(t, key)
	verifier := NewVerifier(NewKeySet(srv.URL, time.Second))

	// Prime the cache.
	if _, aerr := verifier.Verify(context.Background(), key.sign(t, validClaims("user-1"))); aerr != nil {
		t.Fatalf("Verify() failed while the key source was up: %v", aerr)
	}
	if got := atomic.LoadInt32(fetches); got != 1 {
		t.Fatalf("expected 1 key fetch, got %d", got)
	}

	// Kill the key source. Cached keys must keep working.
	srv.Close()
	if _, aerr := verifier.Verify(context.Background(), key.sign(t, validClaims("user-2"))); aerr != nil {
		t.Fatalf("Verify() failed on cached keys after key-source outage: %v", aerr)
	}
}

func TestKeySetRefreshesOnUnknownKeyID(t *testing.T) {
	oldKey := newTestKey(t, "key-old")
	newKey := newTestKey(t, "key-new")

	var served atomic.Value
	served.Store(jwksJSON(t, oldKey))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(served.Load().([]byte))
	}))
	defer srv.Close()

	verifier := NewVerifier(NewKeySet(srv.URL, time.Second))
	if _, aerr := verifier.Verify(context.Background(), oldKey.sign(t, validClaims("user-1"))); aerr != nil {
		t.Fatalf("Verify() with old key failed: %v", aerr)
	}

	// Rotate the published set, then present a credential signed with
	// the new key. The unknown id must trigger a refresh.
	served.Store(jwksJSON(t, newKey))
	if _, aerr := verifier.Verify(context.Background(), newKey.sign(t, validClaims("user-1"))); aerr != nil {
		t.Fatalf("Verify() after rotation failed: %v", aerr)
	}
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		want       string
		wantReason models.AuthReason
	}{
		{name: "valid bearer", header: "Bearer tok123", want: "tok123"},
		{name: "missing header", header: "", wantReason: models.AuthMissing},
		{name: "not a bearer scheme", header: "Basic dXNlcjpwYXNz", wantReason: models.AuthMalformed},
		{name: "empty bearer value", header: "Bearer ", wantReason: models.AuthMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, aerr := ExtractBearer(r)
			if tt.wantReason == "" {
				if aerr != nil {
					t.Fatalf("ExtractBearer() unexpected error: %v", aerr)
				}
				if got != tt.want {
					t.Errorf("ExtractBearer() = %q, want %q", got, tt.want)
				}
				return
			}
			if aerr == nil {
				t.Fatal("ExtractBearer() expected an error")
			}
			if aerr.Reason != tt.wantReason {
				t.Errorf("ExtractBearer() reason = %q, want %q", aerr.Reason, tt.wantReason)
			}
		})
	}
}
