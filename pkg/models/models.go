// Package models contains the shared types passed between the relay's
// layers: verified claims, access tiers, prompt messages and the error
// taxonomy surfaced to clients.
package models

import "fmt"

// Claims holds the fields extracted from a verified bearer credential.
// A Claims value exists only after signature and expiry checks have passed;
// nothing in this struct is client-asserted.
type Claims struct {
	// Subject is the authenticated user identifier.
	Subject string `json:"sub"`
	// Plan is the raw plan claim, possibly carrying a scope prefix
	// such as "u:" or "o:". Empty when the credential has no plan.
	Plan string `json:"pla,omitempty"`
	// ExpiresAt is the credential expiry as a Unix timestamp.
	ExpiresAt int64 `json:"exp"`
	// StripeCustomerID links the subject to a billing customer when the
	// identity provider includes one. Used only for the read-only billing
	// projection, never for tier resolution.
	StripeCustomerID string `json:"cus,omitempty"`
}

// Tier is an access level derived from the plan claim. Tiers are ordered
// from most to least capable; unknown plans resolve to the lowest tier.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
	TierFree     Tier = "free"
)

// Message is one entry of an ordered prompt sequence sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AuthReason classifies why credential verification failed.
type AuthReason string

const (
	AuthMissing          AuthReason = "missing"
	AuthMalformed        AuthReason = "malformed"
	AuthExpired          AuthReason = "expired"
	AuthSignatureInvalid AuthReason = "signature-invalid"
)

// AuthError is returned when a bearer credential cannot be verified.
// Verification failures always reject the request before any streaming
// begins.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("credential %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError names the first request field that failed validation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Msg)
}

// UpstreamKind classifies a mid-stream provider failure.
type UpstreamKind string

const (
	UpstreamTimeout   UpstreamKind = "timeout"
	UpstreamAuth      UpstreamKind = "auth"
	UpstreamRateLimit UpstreamKind = "rate-limit"
	UpstreamUnknown   UpstreamKind = "unknown"
)

// UpstreamError describes an early termination of the provider stream.
// It occurs only after streaming has started and is delivered to clients
// as an in-band event, never as a transport-level failure.
type UpstreamError struct {
	Kind   UpstreamKind
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Detail)
}

// Message returns the human-readable text relayed to the client when the
// stream terminates with this error.
func (e *UpstreamError) Message() string {
	switch e.Kind {
	case UpstreamTimeout:
		return "The model took too long to respond. Please try again."
	case UpstreamAuth:
		return "The relay could not authenticate with the model provider."
	case UpstreamRateLimit:
		return "The model provider is rate limiting requests. Please try again shortly."
	default:
		return "The model stream ended unexpectedly. Please try again."
	}
}
