package loantools

import (
	"sort"
	"strconv"
	"strings"
)

// RateTier applies up to MaxAmount rupees. A zero MaxAmount is the top tier.
type RateTier struct {
	Name      string  `mapstructure:"name" json:"name"`
	MaxAmount float64 `mapstructure:"max_amount" json:"max_amount,omitempty"`
	Rate      float64 `mapstructure:"rate" json:"rate"`
}

type Competitor struct {
	ID       string   `mapstructure:"id" json:"id"`
	Name     string   `mapstructure:"name" json:"name"`
	Rate     float64  `mapstructure:"rate" json:"rate"`
	LTV      float64  `mapstructure:"ltv" json:"ltv"`
	Features []string `mapstructure:"features" json:"features,omitempty"`
}

type Branch struct {
	City    string `mapstructure:"city" json:"city"`
	Name    string `mapstructure:"name" json:"name"`
	Address string `mapstructure:"address" json:"address"`
}

// Catalog is the product data the loan tools quote from.
type Catalog struct {
	Company       string             `mapstructure:"company"`
	Tiers         []RateTier         `mapstructure:"tiers"`
	LTVPercent    float64            `mapstructure:"ltv_percent"`
	PricePerGram  float64            `mapstructure:"price_per_gram"`
	PurityFactors map[string]float64 `mapstructure:"purity_factors"`
	MinLoan       float64            `mapstructure:"min_loan"`
	ProcessingFee float64            `mapstructure:"processing_fee_percent"`
	Competitors   []Competitor       `mapstructure:"competitors"`
	Branches      []Branch           `mapstructure:"branches"`
}

func DefaultCatalog() Catalog {
	return Catalog{
		Company: "Kotak Mahindra Bank",
		Tiers: []RateTier{
			{Name: "standard", MaxAmount: 100000, Rate: 11.5},
			{Name: "premium", MaxAmount: 500000, Rate: 10.5},
			{Name: "elite", Rate: 9.5},
		},
		LTVPercent:    75,
		PricePerGram:  7000,
		PurityFactors: map[string]float64{"24": 1.0, "22": 0.916, "18": 0.75},
		MinLoan:       10000,
		ProcessingFee: 0.5,
		Competitors: []Competitor{
			{ID: "muthoot", Name: "Muthoot Finance", Rate: 12.0, LTV: 75, Features: []string{"wide branch network"}},
			{ID: "manappuram", Name: "Manappuram Finance", Rate: 12.5, LTV: 75},
			{ID: "iifl", Name: "IIFL Finance", Rate: 11.9, LTV: 75},
		},
		Branches: []Branch{
			{City: "mumbai", Name: "Andheri East", Address: "Western Express Highway, Andheri East"},
			{City: "pune", Name: "Shivajinagar", Address: "FC Road, Shivajinagar"},
			{City: "delhi", Name: "Connaught Place", Address: "Block N, Connaught Place"},
			{City: "bangalore", Name: "MG Road", Address: "MG Road, Ashok Nagar"},
		},
	}
}

// RateFor returns the tier that covers amount. Tiers are checked in
// ascending MaxAmount order with the open-ended tier last.
func (c Catalog) RateFor(amount float64) RateTier {
	tiers := append([]RateTier(nil), c.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool {
		a, b := tiers[i].MaxAmount, tiers[j].MaxAmount
		if a == 0 {
			return false
		}
		return b == 0 || a < b
	})
	for _, t := range tiers {
		if t.MaxAmount == 0 || amount <= t.MaxAmount {
			return t
		}
	}
	if len(tiers) > 0 {
		return tiers[len(tiers)-1]
	}
	return RateTier{}
}

func (c Catalog) GoldValue(grams float64, purity string) float64 {
	factor, ok := c.PurityFactors[strings.TrimRight(strings.ToLower(purity), "kt")]
	if !ok {
		factor = c.PurityFactors["22"]
	}
	return grams * c.PricePerGram * factor
}

func (c Catalog) MaxLoan(goldValue float64) float64 {
	return goldValue * c.LTVPercent / 100
}

func parseAmount(s string) float64 {
	v, _ := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	return v
}
