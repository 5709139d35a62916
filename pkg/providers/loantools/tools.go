package loantools

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/harunnryd/parley/pkg/tools"
)

// Args mirror the slot names the conversation fills. Slot values are
// strings, so numbers arrive as strings too.

type RateArgs struct {
	LoanAmount string `json:"loan_amount,omitempty" jsonschema:"description=Requested loan amount in rupees"`
	GoldWeight string `json:"gold_weight,omitempty" jsonschema:"description=Gold weight in grams"`
	Language   string `json:"language,omitempty"`
}

type RateQuote struct {
	Tier          string  `json:"tier"`
	RatePercent   float64 `json:"rate_percent"`
	ProcessingFee float64 `json:"processing_fee_percent"`
	LoanAmount    float64 `json:"loan_amount,omitempty"`
	MonthlyCost   float64 `json:"monthly_interest,omitempty"`
	Message       string  `json:"message"`
}

type EligibilityArgs struct {
	GoldWeight string `json:"gold_weight,omitempty"`
	GoldPurity string `json:"gold_purity,omitempty"`
	LoanAmount string `json:"loan_amount,omitempty"`
	Language   string `json:"language,omitempty"`
}

type Eligibility struct {
	Eligible    bool    `json:"eligible"`
	GoldValue   float64 `json:"gold_value_inr"`
	MaxLoan     float64 `json:"max_loan_amount_inr"`
	RatePercent float64 `json:"interest_rate_percent"`
	Message     string  `json:"message"`
}

type CompareArgs struct {
	CurrentLender string `json:"current_lender,omitempty"`
	LoanAmount    string `json:"loan_amount,omitempty"`
	Language      string `json:"language,omitempty"`
}

type Comparison struct {
	OurRate      float64      `json:"our_rate"`
	Competitors  []Competitor `json:"competitors"`
	AnnualSaving float64      `json:"annual_saving_inr,omitempty"`
	Message      string       `json:"message"`
}

type VisitArgs struct {
	City       string `json:"city,omitempty"`
	LoanAmount string `json:"loan_amount,omitempty"`
	GoldWeight string `json:"gold_weight,omitempty"`
	Language   string `json:"language,omitempty"`
}

type Visit struct {
	Reference string `json:"reference"`
	Branch    Branch `json:"branch"`
	Message   string `json:"message"`
}

type LeadArgs struct {
	LoanAmount    string `json:"loan_amount,omitempty"`
	GoldWeight    string `json:"gold_weight,omitempty"`
	City          string `json:"city,omitempty"`
	CurrentLender string `json:"current_lender,omitempty"`
	Language      string `json:"language,omitempty"`
}

type Lead struct {
	LeadID  string `json:"lead_id"`
	Score   int    `json:"score"`
	Message string `json:"message"`
}

// LeadSink receives captured leads. Nil discards them.
type LeadSink func(ctx context.Context, lead Lead, args LeadArgs) error

// New returns the five tools the conversation table asks for.
func New(c Catalog, sink LeadSink) []tools.Tool {
	return []tools.Tool{
		tools.NewFunc("get_interest_rates", "Quote the gold loan interest rate for an amount", c.rates),
		tools.NewFunc("check_eligibility", "Estimate the loan available against gold", c.eligibility),
		tools.NewFunc("compare_lenders", "Compare our rate with the caller's current lender", c.compare),
		tools.NewFunc("schedule_visit", "Book a branch visit for gold valuation", c.visit),
		tools.NewFunc("capture_lead", "Record an interested caller for follow up", func(ctx context.Context, in LeadArgs) (Lead, error) {
			return captureLead(ctx, in, sink)
		}),
	}
}

func (c Catalog) rates(_ context.Context, in RateArgs) (RateQuote, error) {
	amount := parseAmount(in.LoanAmount)
	if amount == 0 && in.GoldWeight != "" {
		amount = c.MaxLoan(c.GoldValue(parseAmount(in.GoldWeight), "22"))
	}
	tier := c.RateFor(amount)
	q := RateQuote{Tier: tier.Name, RatePercent: tier.Rate, ProcessingFee: c.ProcessingFee, LoanAmount: amount}
	if amount > 0 {
		q.MonthlyCost = math.Round(amount * tier.Rate / 100 / 12)
		q.Message = fmt.Sprintf("For %.0f rupees the rate is %.1f%% per year, about %.0f rupees interest a month.", amount, tier.Rate, q.MonthlyCost)
	} else {
		q.Message = fmt.Sprintf("Our gold loan rates start at %.1f%% per year.", c.RateFor(math.MaxFloat64).Rate)
	}
	return q, nil
}

func (c Catalog) eligibility(_ context.Context, in EligibilityArgs) (Eligibility, error) {
	grams := parseAmount(in.GoldWeight)
	if grams <= 0 {
		return Eligibility{}, fmt.Errorf("%w: gold_weight is required", tools.ErrInvalidArgs)
	}
	value := c.GoldValue(grams, in.GoldPurity)
	maxLoan := c.MaxLoan(value)
	tier := c.RateFor(maxLoan)
	e := Eligibility{
		Eligible:    maxLoan >= c.MinLoan,
		GoldValue:   math.Round(value),
		MaxLoan:     math.Round(maxLoan),
		RatePercent: tier.Rate,
	}
	if e.Eligible {
		e.Message = fmt.Sprintf("You are eligible for up to %.0f rupees at %.1f%% interest.", e.MaxLoan, tier.Rate)
	} else {
		e.Message = fmt.Sprintf("The minimum loan is %.0f rupees; this gold covers %.0f.", c.MinLoan, e.MaxLoan)
	}
	return e, nil
}

func (c Catalog) compare(_ context.Context, in CompareArgs) (Comparison, error) {
	amount := parseAmount(in.LoanAmount)
	if amount <= 0 {
		amount = 100000
	}
	ours := c.RateFor(amount).Rate
	out := Comparison{OurRate: ours}
	lender := strings.ToLower(strings.TrimSpace(in.CurrentLender))
	for _, comp := range c.Competitors {
		if lender == "" || comp.ID == lender {
			out.Competitors = append(out.Competitors, comp)
		}
	}
	if len(out.Competitors) == 1 {
		theirs := out.Competitors[0]
		out.AnnualSaving = math.Round(amount * (theirs.Rate - ours) / 100)
		if out.AnnualSaving > 0 {
			out.Message = fmt.Sprintf("Switching from %s saves about %.0f rupees a year on %.0f.", theirs.Name, out.AnnualSaving, amount)
		} else {
			out.Message = fmt.Sprintf("%s charges %.1f%%; we charge %.1f%%.", theirs.Name, theirs.Rate, ours)
		}
		return out, nil
	}
	out.Message = fmt.Sprintf("Our rate of %.1f%% is among the lowest in the market.", ours)
	return out, nil
}

func (c Catalog) visit(ctx context.Context, in VisitArgs) (Visit, error) {
	city := strings.ToLower(strings.TrimSpace(in.City))
	var branch Branch
	for _, b := range c.Branches {
		if b.City == city {
			branch = b
			break
		}
	}
	if branch.Name == "" {
		if len(c.Branches) == 0 {
			return Visit{}, fmt.Errorf("no branches configured")
		}
		branch = c.Branches[0]
	}
	ref := tools.IdempotencyKey(ctx)
	if ref == "" {
		ref = uuid.NewString()
	}
	return Visit{
		Reference: ref,
		Branch:    branch,
		Message:   fmt.Sprintf("Your visit is booked at our %s branch, %s.", branch.Name, branch.Address),
	}, nil
}

func captureLead(ctx context.Context, in LeadArgs, sink LeadSink) (Lead, error) {
	lead := Lead{LeadID: tools.IdempotencyKey(ctx), Score: leadScore(in)}
	if lead.LeadID == "" {
		lead.LeadID = uuid.NewString()
	}
	lead.Message = "Your details are noted; our team will call to confirm."
	if sink != nil {
		if err := sink(ctx, lead, in); err != nil {
			return Lead{}, err
		}
	}
	return lead, nil
}

// leadScore gives 25 points per known qualifying detail.
func leadScore(in LeadArgs) int {
	score := 0
	for _, v := range []string{in.LoanAmount, in.GoldWeight, in.City, in.CurrentLender} {
		if strings.TrimSpace(v) != "" {
			score += 25
		}
	}
	return score
}
