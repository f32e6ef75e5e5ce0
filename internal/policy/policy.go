// Package policy filters the listing categories an account asks for down
// to the ones its tier and entitlement allow.
package policy

import (
	"github.com/dukerupert/legacygrant/internal/entitlement"
	"github.com/dukerupert/legacygrant/internal/model"
)

// TierRule is the static policy for one membership tier.
type TierRule struct {
	Excluded      []model.Category
	MaxCategories int
}

var tierRules = map[model.Tier]TierRule{
	model.TierBasic: {
		Excluded:      []model.Category{model.CategoryVoiceover},
		MaxCategories: 1,
	},
	model.TierPremium: {
		MaxCategories: 3,
	},
}

// RuleFor returns the rule for tier. Unknown tiers get the BASIC rule.
func RuleFor(tier model.Tier) TierRule {
	if r, ok := tierRules[tier]; ok {
		return r
	}
	return tierRules[model.TierBasic]
}

// Restricted is the category gated by the legacy entitlement. It cannot
// be combined with any other category.
const Restricted = model.CategoryVoiceover

// Enforce returns the subset of requested the account may list, in the
// order requested. Unknown and duplicate categories are dropped.
func Enforce(requested []model.Category, tier model.Tier, status entitlement.Status) []model.Category {
	rule := RuleFor(tier)

	allowed := make([]model.Category, 0, len(requested))
	seen := make(map[model.Category]bool, len(requested))
	for _, c := range requested {
		if !c.Valid() || seen[c] || excluded(rule, c) {
			continue
		}
		if c == Restricted && status.ShouldBlockRestrictedCapability {
			continue
		}
		seen[c] = true
		allowed = append(allowed, c)
	}

	if seen[Restricted] && len(allowed) > 1 {
		return []model.Category{Restricted}
	}

	if len(allowed) > rule.MaxCategories {
		allowed = allowed[:rule.MaxCategories]
	}
	return allowed
}

func excluded(rule TierRule, c model.Category) bool {
	for _, x := range rule.Excluded {
		if x == c {
			return true
		}
	}
	return false
}
