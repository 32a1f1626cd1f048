/*
Package llm implements the authenticated streaming relay pipeline.

# Architecture Overview

The package follows a layered structure:

1. HTTP Handler (handlers.go)
  - Serves the streaming endpoint
  - Runs the pre-stream checks: credential verification, tier
    resolution, request validation
  - Relays upstream fragments as server-sent events

2. Stream Adapter (service.go)
  - Opens exactly one streaming call to the model provider
  - No retries; one hard total deadline per call
  - Converts every early termination into a single terminal error
    fragment, so downstream stages have no separate error channel

3. Tier Resolution (tier.go)
  - Derives the access tier from the verified plan claim
  - Total over all inputs: unknown plans degrade to the free tier
  - Maps each tier to its model identifier

4. Validation and Prompting (prompt.go)
  - Validates the use case's required fields in a fixed order
  - Builds the deterministic system/user message pair

5. Configuration (config.go)
  - Materialized once from the environment at process start
  - Immutable thereafter

# Request Flow

1. Request arrives at the streaming endpoint with a bearer credential
2. The credential is verified against the cached public-key set
3. The tier and model are resolved from the verified claims only
4. The request payload is validated and normalized
5. The prompt is built and the upstream stream opened
6. Fragments are reframed as events and forwarded in arrival order
7. An upstream failure becomes an in-band error event; the transport
   framing never changes mid-response

# Failure Policy

Credential and validation failures reject before any streaming begins.
Upstream failures happen only after streaming has started and are
rendered as user-visible text inline with whatever partial output has
already been delivered. Nothing is retried automatically at any stage.
*/
package llm
