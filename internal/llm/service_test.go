package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stream-relay/pkg/models"
)

func testConfig(upstreamURL string, timeout time.Duration) *Config {
	return &Config{
		UpstreamURL:     upstreamURL,
		UpstreamAPIKey:  "test-provider-key",
		UpstreamTimeout: timeout,
		UseCase:         UseCaseTopic,
		Models: map[models.Tier]string{
			models.TierPremium:  "model-x",
			models.TierStandard: "model-y",
			models.TierFree:     "model-z",
		},
	}
}

// writeChunk emits one OpenAI-style streaming chunk.
func writeChunk(w http.ResponseWriter, content string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]string{"content": content}},
		},
	})
	fmt.Fprintf(w, "data: %s\n\n", payload)
	w.(http.Flusher).Flush()
}

func collect(ch <-chan Fragment) (texts []string, terminal *models.UpstreamError) {
	for f := range ch {
		if f.Err != nil {
			terminal = f.Err
			continue
		}
		texts = append(texts, f.Text)
	}
	return texts, terminal
}

func TestStreamCompletionForwardsFragmentsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-provider-key" {
			t.Errorf("missing provider credential, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeChunk(w, "Hello")
		writeChunk(w, " world")
		writeChunk(w, "!\nSecond line")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	service := NewService(testConfig(srv.URL, 5*time.Second), nil)
	texts, terminal := collect(service.StreamCompletion(context.Background(), "model-x", nil))

	if terminal != nil {
		t.Fatalf("unexpected terminal error: %v", terminal)
	}
	want := []string{"Hello", " world", "!\nSecond line"}
	if len(texts) != len(want) {
		t.Fatalf("got %d fragments, want %d: %v", len(texts), len(want), texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("fragment %d = %q, want %q", i, texts[i], want[i])
		}
	}
}

func TestStreamCompletionSkipsMalformedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunk(w, "ok")
		fmt.Fprint(w, "data: {not json\n\n")
		writeChunk(w, " still ok")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	service := NewService(testConfig(srv.URL, 5*time.Second), nil)
	texts, terminal := collect(service.StreamCompletion(context.Background(), "model-x", nil))

	if terminal != nil {
		t.Fatalf("unexpected terminal error: %v", terminal)
	}
	if len(texts) != 2 || texts[0] != "ok" || texts[1] != " still ok" {
		t.Errorf("unexpected fragments: %v", texts)
	}
}

func TestStreamCompletionClassifiesProviderStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind models.UpstreamKind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantKind: models.UpstreamAuth},
		{name: "forbidden", status: http.StatusForbidden, wantKind: models.UpstreamAuth},
		{name: "rate limited", status: http.StatusTooManyRequests, wantKind: models.UpstreamRateLimit},
		{name: "server error", status: http.StatusInternalServerError, wantKind: models.UpstreamUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "provider says no", tt.status)
			}))
			defer srv.Close()

			service := NewService(testConfig(srv.URL, 5*time.Second), nil)
			texts, terminal := collect(service.StreamCompletion(context.Background(), "model-x", nil))

			if len(texts) != 0 {
				t.Errorf("expected no text fragments, got %v", texts)
			}
			if terminal == nil {
				t.Fatal("expected a terminal error fragment")
			}
			if terminal.Kind != tt.wantKind {
				t.Errorf("terminal kind = %q, want %q", terminal.Kind, tt.wantKind)
			}
		})
	}
}

func TestStreamCompletionTimeoutAfterPartialOutput(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeChunk(w, "Hello")
		writeChunk(w, " world")
		<-blocked // hold the stream open past the deadline
	}))
	defer srv.Close()
	defer close(blocked)

	service := NewService(testConfig(srv.URL, 300*time.Millisecond), nil)
	texts, terminal := collect(service.StreamCompletion(context.Background(), "model-x", nil))

	if len(texts) != 2 || texts[0] != "Hello" || texts[1] != " world" {
		t.Errorf("unexpected partial fragments: %v", texts)
	}
	if terminal == nil {
		t.Fatal("expected exactly one terminal error fragment")
	}
	if terminal.Kind != models.UpstreamTimeout {
		t.Errorf("terminal kind = %q, want %q", terminal.Kind, models.UpstreamTimeout)
	}
}

func TestStreamCompletionStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeChunk(w, "first")
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	service := NewService(testConfig(srv.URL, 10*time.Second), nil)
	ch := service.StreamCompletion(ctx, "model-x", nil)

	if f := <-ch; f.Text != "first" {
		t.Fatalf("first fragment = %q, want %q", f.Text, "first")
	}
	cancel()

	// The sequence must end promptly once the consumer is gone.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not terminate after cancellation")
		}
	}
}
