package llm

import (
	"strings"

	"stream-relay/pkg/models"
)

// planEntry maps one known plan slug to its tier. The table is ordered
// and the first match wins.
type planEntry struct {
	slug string
	tier models.Tier
}

// planTable is the fixed set of plan slugs the identity provider issues.
// Matching is case-sensitive; anything else degrades to the free tier.
var planTable = []planEntry{
	{slug: "premium_subscription", tier: models.TierPremium},
	{slug: "pro_plan", tier: models.TierStandard},
}

// scopePrefixes are the issuer scope markers that may precede a plan slug
// (user- and org-scoped plans). Exactly one is stripped when present.
var scopePrefixes = []string{"u:", "o:"}

// ResolveTier derives the access tier from a verified plan claim. It is
// total over all string inputs: a missing claim, an unrecognized scope
// prefix or an unknown slug all resolve to the free tier rather than an
// error, so an odd claim can never take the endpoint down.
func ResolveTier(plan string) models.Tier {
	if plan == "" {
		return models.TierFree
	}

	slug := plan
	for _, p := range scopePrefixes {
		if strings.HasPrefix(plan, p) {
			slug = strings.TrimPrefix(plan, p)
			break
		}
	}

	for _, e := range planTable {
		if e.slug == slug {
			return e.tier
		}
	}
	return models.TierFree
}

// Resolve derives the tier and its mapped model identifier from verified
// claims. Tier resolution reads nothing but the claims; client-asserted
// data never participates.
func (c *Config) Resolve(claims *models.Claims) (models.Tier, string) {
	tier := ResolveTier(claims.Plan)
	model, ok := c.Models[tier]
	if !ok {
		// Every tier is mapped at load time; this is the fallback for a
		// hand-built Config missing an entry.
		model = c.Models[models.TierFree]
	}
	return tier, model
}
