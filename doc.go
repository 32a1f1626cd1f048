// Package relay documents the authenticated streaming relay for language
// model answers.
//
// # Overview
//
// The relay exposes a single streaming endpoint. It verifies a bearer
// credential against a rotating public-key set, resolves an access tier
// from the verified claims, validates the request, builds a prompt and
// forwards the upstream model's incremental output to the client as
// server-sent events.
//
// # Endpoints
//
//   - /v1/stream: the streaming endpoint. GET with ?topic= for the topic
//     use case, POST with a JSON body for the visit-note use case.
//   - /v1/billing: read-only projection of the caller's tier and
//     subscription, for presentation only.
//   - /healthz: process health.
//   - /metrics: Prometheus metrics.
//
// # Authentication
//
// Every request presents "Authorization: Bearer <credential>". The
// credential is an RS256-signed token whose key id is resolved against
// the key set published at JWKS_URL. Keys are cached by id, refreshed
// when an unknown id appears, and the last known good set is retained if
// a refresh fails. A credential is rejected (401) when the header is
// missing, the token is malformed or expired, or the signature cannot be
// verified. A key-source outage also rejects: verification fails closed.
//
// # Access Tiers
//
// The plan claim ("pla"), optionally prefixed by a "u:" or "o:" scope
// marker, selects the tier:
//
//   - premium_subscription → premium
//   - pro_plan → standard
//   - anything else, or no plan claim → free
//
// Each tier maps to exactly one model identifier, configured via
// MODEL_PREMIUM, MODEL_STANDARD and MODEL_FREE.
//
// # Streaming Contract
//
// The response is "text/event-stream" for its entire lifetime. Text
// fragments arrive as message events; fragments containing newlines are
// split across multiple data lines of one event so standard SSE
// reassembly reproduces them exactly. A mid-stream provider failure is
// delivered as an in-band "error" event rather than a transport-level
// failure; normal completion ends with a "done" event.
//
// # Environment Variables
//
// See cmd/main.go for the full list. The required ones are JWKS_URL and
// UPSTREAM_API_KEY.
package relay
