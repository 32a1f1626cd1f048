package llm

import (
	"net/http"

	"stream-relay/internal/auth"
	"stream-relay/internal/metrics"
	"stream-relay/pkg/models"
	"stream-relay/pkg/sse"

	"go.uber.org/zap"
)

// ServerState wires the relay pipeline behind the streaming endpoint:
// verify credential, resolve tier, validate the request, build the
// prompt, relay the upstream stream as events.
type ServerState struct {
	Config   *Config
	Service  *Service
	Verifier *auth.Verifier
	Logger   *zap.Logger
}

// NewServerState assembles the relay handler state.
func NewServerState(cfg *Config, verifier *auth.Verifier, logger *zap.Logger) *ServerState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServerState{
		Config:   cfg,
		Service:  NewService(cfg, logger),
		Verifier: verifier,
		Logger:   logger,
	}
}

// streamMeta is the optional diagnostic block emitted before the first
// fragment.
type streamMeta struct {
	Tier   models.Tier    `json:"tier"`
	Model  string         `json:"model"`
	Claims *models.Claims `json:"claims,omitempty"`
}

// HandleStream serves the authenticated streaming endpoint.
//
// Credential and validation failures reject with a plain error status
// before any body framing is committed. Once streaming has begun, the
// content type and framing stay fixed: upstream failures are delivered
// as in-band error events, never as a transport-level failure.
func (s *ServerState) HandleStream(w http.ResponseWriter, r *http.Request) {
	logger := s.Logger.With(zap.String("use_case", s.Config.UseCase))

	credential, aerr := auth.ExtractBearer(r)
	var claims *models.Claims
	if aerr == nil {
		claims, aerr = s.Verifier.Verify(r.Context(), credential)
	}
	if aerr != nil {
		metrics.AuthFailures.WithLabelValues(string(aerr.Reason)).Inc()
		logger.Info("credential rejected", zap.String("reason", string(aerr.Reason)))
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}

	tier, model := s.Config.Resolve(claims)
	logger = logger.With(zap.String("subject", claims.Subject), zap.String("tier", string(tier)))

	req, verr := s.validateRequest(w, r)
	if verr != nil {
		metrics.ValidationFailures.WithLabelValues(verr.Field).Inc()
		logger.Info("request rejected", zap.String("field", verr.Field), zap.String("msg", verr.Msg))
		http.Error(w, verr.Error(), http.StatusBadRequest)
		return
	}
	if req == nil {
		// validateRequest already wrote a method rejection.
		return
	}

	messages := BuildPrompt(req)

	metrics.StreamsStarted.WithLabelValues(string(tier)).Inc()
	logger.Info("stream started", zap.String("model", model))

	sw := sse.NewWriter(w)
	w.WriteHeader(http.StatusOK)

	if s.Config.DebugMeta {
		meta := streamMeta{Tier: tier, Model: model}
		if s.Config.DebugClaims {
			meta.Claims = claims
		}
		if err := sw.WriteJSON(sse.EventMeta, meta); err != nil {
			return
		}
	}

	for fragment := range s.Service.StreamCompletion(r.Context(), model, messages) {
		if fragment.Err != nil {
			metrics.UpstreamErrors.WithLabelValues(string(fragment.Err.Kind)).Inc()
			// In-band terminal event; transport framing stays intact.
			sw.WriteEvent(sse.EventError, fragment.Err.Message())
			return
		}
		metrics.FragmentsRelayed.Inc()
		if err := sw.WriteText(fragment.Text); err != nil {
			// Client is gone; the context cancellation releases the
			// upstream connection.
			logger.Info("client disconnected mid-stream")
			return
		}
	}

	sw.WriteDone()
	logger.Info("stream completed")
}

// validateRequest checks the method and payload for the active use case.
// A nil request with a nil error means the method rejection has already
// been written.
func (s *ServerState) validateRequest(w http.ResponseWriter, r *http.Request) (*Request, *models.ValidationError) {
	switch s.Config.UseCase {
	case UseCaseVisitNote:
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return nil, nil
		}
		defer r.Body.Close()
		return ValidateVisitNote(r.Body)
	default:
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return nil, nil
		}
		return ValidateTopic(r.URL.Query().Get("topic"))
	}
}

// RegisterHandlers mounts the relay endpoint on a router.
func (s *ServerState) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/v1/stream", s.HandleStream)
}
