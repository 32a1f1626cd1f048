package llm

import (
	"fmt"
	"os"
	"time"

	"stream-relay/pkg/models"
)

// Use cases the relay can serve. A deployment serves exactly one,
// selected at process start.
const (
	// UseCaseTopic streams free-form prose about a topic supplied as a
	// query parameter.
	UseCaseTopic = "topic"
	// UseCaseVisitNote streams a structured visit summary built from a
	// posted JSON body.
	UseCaseVisitNote = "visit_note"
)

// DefaultUpstreamTimeout is the total deadline for one upstream streaming
// call. It sits below common host execution limits so a slow provider
// surfaces as a clean in-band timeout instead of the host killing the
// request mid-response.
const DefaultUpstreamTimeout = 25 * time.Second

// Config is the relay's process-start configuration. It is built once
// from the environment and immutable thereafter.
type Config struct {
	// UpstreamURL is the OpenAI-compatible chat completions endpoint.
	UpstreamURL string
	// UpstreamAPIKey authenticates the relay with the model provider.
	UpstreamAPIKey string
	// UpstreamTimeout is the hard total deadline for one streaming call.
	// There are no retries: a single attempt either streams or fails.
	UpstreamTimeout time.Duration
	// UseCase selects which request shape and prompt the endpoint serves.
	UseCase string
	// Models maps each access tier to the model identifier it may use.
	// Every tier has exactly one entry.
	Models map[models.Tier]string
	// DebugMeta enables the diagnostic meta event emitted before the
	// first fragment (selected tier and model).
	DebugMeta bool
	// DebugClaims additionally includes the verified claims in the meta
	// event. Audit aid only.
	DebugClaims bool
}

// LoadConfig materializes the relay configuration from environment
// variables.
//
// Recognized variables:
//   - UPSTREAM_URL: chat completions endpoint (default: the OpenAI API)
//   - UPSTREAM_API_KEY: provider credential (required)
//   - UPSTREAM_TIMEOUT: total streaming deadline, e.g. "25s"
//   - USE_CASE: "topic" or "visit_note" (default "topic")
//   - MODEL_PREMIUM, MODEL_STANDARD, MODEL_FREE: tier→model table
//   - STREAM_DEBUG_META, STREAM_DEBUG_CLAIMS: "true"/"1" to enable
func LoadConfig() (*Config, error) {
	cfg := &Config{
		UpstreamURL:     getenvDefault("UPSTREAM_URL", "https://api.openai.com/v1/chat/completions"),
		UpstreamAPIKey:  os.Getenv("UPSTREAM_API_KEY"),
		UpstreamTimeout: DefaultUpstreamTimeout,
		UseCase:         getenvDefault("USE_CASE", UseCaseTopic),
		Models: map[models.Tier]string{
			models.TierPremium:  getenvDefault("MODEL_PREMIUM", "gpt-4o"),
			models.TierStandard: getenvDefault("MODEL_STANDARD", "gpt-4o-mini"),
			models.TierFree:     getenvDefault("MODEL_FREE", "gpt-4o-mini"),
		},
		DebugMeta:   boolEnv("STREAM_DEBUG_META"),
		DebugClaims: boolEnv("STREAM_DEBUG_CLAIMS"),
	}

	if raw := os.Getenv("UPSTREAM_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid UPSTREAM_TIMEOUT %q: %w", raw, err)
		}
		cfg.UpstreamTimeout = d
	}

	if cfg.UpstreamAPIKey == "" {
		return nil, fmt.Errorf("UPSTREAM_API_KEY is not set")
	}
	if cfg.UseCase != UseCaseTopic && cfg.UseCase != UseCaseVisitNote {
		return nil, fmt.Errorf("unknown USE_CASE %q", cfg.UseCase)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolEnv(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}
