package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"stream-relay/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fragment is one unit of the upstream stream. Either Text is set, or
// Err carries the terminal failure. An early termination always yields
// exactly one terminal fragment before the sequence ends, so downstream
// stages never need a separate error channel.
type Fragment struct {
	Text string
	Err  *models.UpstreamError
}

// Service opens streaming completion calls against the upstream model
// provider. One call per request, zero automatic retries, one hard total
// deadline.
type Service struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewService creates the upstream streaming adapter.
func NewService(cfg *Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config: cfg,
		// No client-level timeout: the per-call context carries the
		// total deadline, and a client timeout would double-bound it.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// completionRequest is the OpenAI-compatible streaming request body.
type completionRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Stream      bool             `json:"stream"`
}

// streamChunk is the shape of one upstream SSE data payload.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamCompletion opens exactly one streaming call and returns a lazy,
// finite, non-restartable sequence of text fragments. The channel is
// closed when the upstream stream ends; if it ends early, the last
// fragment carries the terminal UpstreamError.
//
// The call inherits ctx, so a client disconnect aborts the upstream read
// promptly instead of consuming and discarding the rest of the response.
func (s *Service) StreamCompletion(ctx context.Context, model string, messages []models.Message) <-chan Fragment {
	out := make(chan Fragment)

	go func() {
		defer close(out)

		callCtx, cancel := context.WithTimeout(ctx, s.config.UpstreamTimeout)
		defer cancel()

		requestID := uuid.NewString()
		logger := s.logger.With(zap.String("upstream_request_id", requestID), zap.String("model", model))

		resp, uerr := s.openStream(callCtx, requestID, model, messages)
		if uerr != nil {
			logger.Warn("upstream call failed", zap.String("kind", string(uerr.Kind)), zap.String("detail", uerr.Detail))
			// Terminal fragments are guarded on the caller's context, not
			// the expired call context, so they reach a live consumer.
			emit(ctx, out, Fragment{Err: uerr})
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := line[len("data: "):]
			if data == "[DONE]" {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// Skip malformed chunks rather than killing the stream.
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				if !emit(callCtx, out, Fragment{Text: content}) {
					// Deadline fired while handing off a fragment. The
					// consumer may still be live; tell it.
					if ctx.Err() == nil {
						emit(ctx, out, Fragment{Err: &models.UpstreamError{
							Kind:   models.UpstreamTimeout,
							Detail: "upstream deadline exceeded",
						}})
					}
					return
				}
			}
			if chunk.Choices[0].FinishReason != "" {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				// Client is gone; nobody is listening for a terminal event.
				return
			}
			uerr := classifyTransportError(callCtx, err)
			logger.Warn("upstream stream interrupted", zap.String("kind", string(uerr.Kind)), zap.Error(err))
			emit(ctx, out, Fragment{Err: uerr})
		}
	}()

	return out
}

// emit sends a fragment unless the request context is gone. Returns
// false when the consumer has disconnected.
func emit(ctx context.Context, out chan<- Fragment, f Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// openStream performs the HTTP call and classifies any pre-stream
// failure.
func (s *Service) openStream(ctx context.Context, requestID, model string, messages []models.Message) (*http.Response, *models.UpstreamError) {
	body, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0.4,
		MaxTokens:   1024,
		Stream:      true,
	})
	if err != nil {
		return nil, &models.UpstreamError{Kind: models.UpstreamUnknown, Detail: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, &models.UpstreamError{Kind: models.UpstreamUnknown, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.UpstreamAPIKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return resp, nil
}

func classifyTransportError(ctx context.Context, err error) *models.UpstreamError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &models.UpstreamError{Kind: models.UpstreamTimeout, Detail: "upstream deadline exceeded"}
	}
	return &models.UpstreamError{Kind: models.UpstreamUnknown, Detail: err.Error()}
}

func classifyStatus(status int, detail string) *models.UpstreamError {
	kind := models.UpstreamUnknown
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = models.UpstreamAuth
	case http.StatusTooManyRequests:
		kind = models.UpstreamRateLimit
	}
	return &models.UpstreamError{
		Kind:   kind,
		Detail: fmt.Sprintf("provider returned %d: %s", status, detail),
	}
}
