// AngelaMos | 2026
// tiers.go

package billing

import (
	"sort"

	"github.com/storywork/storywork-api/internal/config"
)

// Unlimited marks a tier without a story allowance. Such tiers are never
// granted credits.
const Unlimited = -1

const (
	TierStarter = "starter"
	TierPro     = "pro"
	TierTeam    = "team"
)

type Tier struct {
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	PriceID  string   `json:"-"`
	Price    int      `json:"price"`
	Stories  int      `json:"stories"`
	Features []string `json:"features"`
}

// MonthlyCredits is the credit grant for one billing period.
func (t Tier) MonthlyCredits(costPerStory int) int {
	if t.Stories <= 0 {
		return 0
	}
	return t.Stories * costPerStory
}

type Catalog map[string]Tier

func NewCatalog(cfg config.StripeConfig) Catalog {
	return Catalog{
		TierStarter: {
			Key:      TierStarter,
			Name:     "Starter",
			PriceID:  cfg.StarterPriceID,
			Price:    49,
			Stories:  10,
			Features: []string{"10 stories/month", "Text input", "Basic carousels", "Brand kit"},
		},
		TierPro: {
			Key:     TierPro,
			Name:    "Pro",
			PriceID: cfg.ProPriceID,
			Price:   99,
			Stories: 30,
			Features: []string{
				"30 stories/month",
				"Voice + text input",
				"Premium carousels",
				"Brand kit",
				"Priority generation",
			},
		},
		TierTeam: {
			Key:     TierTeam,
			Name:    "Team",
			PriceID: cfg.TeamPriceID,
			Price:   199,
			Stories: Unlimited,
			Features: []string{
				"Unlimited stories",
				"Voice + text input",
				"Premium carousels",
				"Team brand kits",
				"Priority generation",
				"Team analytics",
			},
		},
	}
}

func (c Catalog) Lookup(key string) (Tier, bool) {
	t, ok := c[key]
	return t, ok
}

// List orders tiers by price.
func (c Catalog) List() []Tier {
	out := make([]Tier, 0, len(c))
	for _, t := range c {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}
