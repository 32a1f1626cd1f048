package llm

import (
	"testing"

	"stream-relay/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestResolveTier(t *testing.T) {
	tests := []struct {
		name string
		plan string
		want models.Tier
	}{
		{name: "no plan claim", plan: "", want: models.TierFree},
		{name: "bare premium slug", plan: "premium_subscription", want: models.TierPremium},
		{name: "user-scoped premium", plan: "u:premium_subscription", want: models.TierPremium},
		{name: "org-scoped premium", plan: "o:premium_subscription", want: models.TierPremium},
		{name: "user-scoped pro", plan: "u:pro_plan", want: models.TierStandard},
		{name: "unknown slug", plan: "enterprise_gold", want: models.TierFree},
		{name: "unrecognized scope prefix", plan: "x:premium_subscription", want: models.TierFree},
		{name: "matching is case-sensitive", plan: "u:Premium_Subscription", want: models.TierFree},
		{name: "prefix without slug", plan: "u:", want: models.TierFree},
		{name: "slug with trailing junk", plan: "premium_subscription_extra", want: models.TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveTier(tt.plan))
		})
	}
}

func TestResolveModelSelection(t *testing.T) {
	cfg := &Config{
		Models: map[models.Tier]string{
			models.TierPremium:  "model-x",
			models.TierStandard: "model-y",
			models.TierFree:     "model-z",
		},
	}

	tests := []struct {
		name      string
		plan      string
		wantTier  models.Tier
		wantModel string
	}{
		{name: "premium plan selects its model", plan: "u:premium_subscription", wantTier: models.TierPremium, wantModel: "model-x"},
		{name: "pro plan selects its model", plan: "pro_plan", wantTier: models.TierStandard, wantModel: "model-y"},
		{name: "missing plan falls to free", plan: "", wantTier: models.TierFree, wantModel: "model-z"},
		{name: "unknown plan falls to free", plan: "o:mystery_plan", wantTier: models.TierFree, wantModel: "model-z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, model := cfg.Resolve(&models.Claims{Subject: "user-1", Plan: tt.plan})
			assert.Equal(t, tt.wantTier, tier)
			assert.Equal(t, tt.wantModel, model)
		})
	}
}
