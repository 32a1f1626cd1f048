// Package billing exposes a read-only projection of the caller's access
// tier and subscription for presentation. It is strictly informational:
// tier resolution always re-derives from the verified credential, and
// nothing returned here feeds back into it.
package billing

import (
	"encoding/json"
	"net/http"

	"stream-relay/internal/auth"
	"stream-relay/internal/llm"
	"stream-relay/pkg/models"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

// SubscriptionSummary is the slice of billing state the UI may display.
type SubscriptionSummary struct {
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	CancelAtEnd      bool   `json:"cancel_at_period_end"`
}

// Projection is the response body of the billing endpoint.
type Projection struct {
	Tier         models.Tier          `json:"tier"`
	Model        string               `json:"model"`
	Plan         string               `json:"plan,omitempty"`
	Subscription *SubscriptionSummary `json:"subscription,omitempty"`
}

// Service looks up live subscription state when a Stripe key is
// configured. Without one the projection still works, minus the
// subscription details.
type Service struct {
	api *client.API
}

// NewService creates the billing lookup. An empty key disables Stripe
// lookups entirely.
func NewService(apiKey string) *Service {
	s := &Service{}
	if apiKey != "" {
		s.api = &client.API{}
		s.api.Init(apiKey, nil)
	}
	return s
}

// Enabled reports whether Stripe lookups are configured.
func (s *Service) Enabled() bool { return s.api != nil }

// Summary fetches the customer's active subscription, if any.
func (s *Service) Summary(customerID string) (*SubscriptionSummary, error) {
	if s.api == nil || customerID == "" {
		return nil, nil
	}

	params := &stripe.SubscriptionListParams{
		Customer: customerID,
		Status:   string(stripe.SubscriptionStatusActive),
	}
	params.Limit = stripe.Int64(1)

	it := s.api.Subscriptions.List(params)
	for it.Next() {
		sub := it.Subscription()
		return &SubscriptionSummary{
			Status:           string(sub.Status),
			CurrentPeriodEnd: sub.CurrentPeriodEnd,
			CancelAtEnd:      sub.CancelAtPeriodEnd,
		}, nil
	}
	return nil, it.Err()
}

// Handler serves the billing projection endpoint.
type Handler struct {
	Config   *llm.Config
	Verifier *auth.Verifier
	Service  *Service
	Logger   *zap.Logger
}

// NewHandler assembles the billing endpoint.
func NewHandler(cfg *llm.Config, verifier *auth.Verifier, service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Config: cfg, Verifier: verifier, Service: service, Logger: logger}
}

// HandleProjection verifies the caller and returns their tier, model and
// subscription state.
func (h *Handler) HandleProjection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	credential, aerr := auth.ExtractBearer(r)
	var claims *models.Claims
	if aerr == nil {
		claims, aerr = h.Verifier.Verify(r.Context(), credential)
	}
	if aerr != nil {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}

	tier, model := h.Config.Resolve(claims)
	projection := Projection{
		Tier:  tier,
		Model: model,
		Plan:  claims.Plan,
	}

	if summary, err := h.Service.Summary(claims.StripeCustomerID); err != nil {
		// The tier projection is still valid without billing details.
		h.Logger.Warn("subscription lookup failed", zap.String("subject", claims.Subject), zap.Error(err))
	} else {
		projection.Subscription = summary
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projection)
}

// RegisterHandlers mounts the billing endpoint on a router.
func (h *Handler) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/v1/billing", h.HandleProjection)
}
