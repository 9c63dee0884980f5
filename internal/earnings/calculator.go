/**
 * @description
 * Package earnings turns session telemetry into a cash, credits and XP
 * breakdown. Calculate is a pure function of its input and the configured
 * rates: no I/O, no clock, no randomness.
 *
 * @notes
 * - Fractional factors (km, quality multipliers, XP per quality point) are
 *   held as decimals and floored back to integers at each step, so no binary
 *   floating point ever touches an amount.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal arithmetic.
 */

package earnings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Tier maps every quality score >= MinScore to Multiplier.
type Tier struct {
	MinScore   int
	Multiplier decimal.Decimal
}

// Rates are the tunable constants of the earnings formula.
type Rates struct {
	RatePerKm           map[domain.SessionMode]int64
	Tiers               []Tier
	CreditsPerCashUnit  int64
	SessionBaseXP       int64
	XPPerKm             int64
	QualityXPMultiplier decimal.Decimal
}

// DefaultRates returns the production rate card.
func DefaultRates() Rates {
	return Rates{
		RatePerKm: map[domain.SessionMode]int64{
			domain.ModePassive: 1,
			domain.ModeDashcam: 10,
			domain.ModeExplore: 25,
		},
		Tiers:               DefaultTiers(),
		CreditsPerCashUnit:  10,
		SessionBaseXP:       10,
		XPPerKm:             5,
		QualityXPMultiplier: decimal.RequireFromString("0.5"),
	}
}

// DefaultTiers is 90→1.5, 70→1.2, 50→1.0, below 50→0.7.
func DefaultTiers() []Tier {
	return []Tier{
		{MinScore: 90, Multiplier: decimal.RequireFromString("1.5")},
		{MinScore: 70, Multiplier: decimal.RequireFromString("1.2")},
		{MinScore: 50, Multiplier: decimal.RequireFromString("1.0")},
		{MinScore: 0, Multiplier: decimal.RequireFromString("0.7")},
	}
}

// ParseTiers reads "90:1.5,70:1.2,50:1.0,0:0.7".
func ParseTiers(raw string) ([]Tier, error) {
	var tiers []Tier
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pieces := strings.SplitN(part, ":", 2)
		if len(pieces) != 2 {
			return nil, fmt.Errorf("invalid quality tier %q", part)
		}
		minScore, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid quality tier score %q: %w", pieces[0], err)
		}
		multiplier, err := decimal.NewFromString(strings.TrimSpace(pieces[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid quality tier multiplier %q: %w", pieces[1], err)
		}
		tiers = append(tiers, Tier{MinScore: minScore, Multiplier: multiplier})
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("no quality tiers in %q", raw)
	}
	return tiers, nil
}

// Input is the telemetry the formula depends on.
type Input struct {
	Mode            domain.SessionMode
	DistanceMeters  int64
	DurationSeconds int64
	QualityScore    int
}

// Calculator applies a validated rate card.
type Calculator struct {
	rates Rates
}

// NewCalculator validates rates and sorts the tiers by descending threshold.
func NewCalculator(rates Rates) (*Calculator, error) {
	if len(rates.RatePerKm) == 0 {
		return nil, fmt.Errorf("rate card has no per-km rates")
	}
	for mode, rate := range rates.RatePerKm {
		if rate < 0 {
			return nil, fmt.Errorf("negative rate for mode %s", mode)
		}
	}
	if len(rates.Tiers) == 0 {
		return nil, fmt.Errorf("rate card has no quality tiers")
	}
	tiers := append([]Tier(nil), rates.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinScore > tiers[j].MinScore })
	for i, tier := range tiers {
		if tier.Multiplier.IsNegative() {
			return nil, fmt.Errorf("negative multiplier for tier %d", tier.MinScore)
		}
		if i > 0 && tiers[i-1].MinScore == tier.MinScore {
			return nil, fmt.Errorf("duplicate quality tier %d", tier.MinScore)
		}
	}
	if tiers[len(tiers)-1].MinScore > 0 {
		return nil, fmt.Errorf("lowest quality tier must start at 0, got %d", tiers[len(tiers)-1].MinScore)
	}
	if rates.CreditsPerCashUnit < 0 || rates.SessionBaseXP < 0 || rates.XPPerKm < 0 || rates.QualityXPMultiplier.IsNegative() {
		return nil, fmt.Errorf("rate card contains negative constants")
	}
	rates.Tiers = tiers
	return &Calculator{rates: rates}, nil
}

// MustNewCalculator is NewCalculator for rate cards known to be valid.
func MustNewCalculator(rates Rates) *Calculator {
	c, err := NewCalculator(rates)
	if err != nil {
		panic(err)
	}
	return c
}

// QualityMultiplier returns the multiplier of the first tier score reaches.
func (c *Calculator) QualityMultiplier(score int) decimal.Decimal {
	for _, tier := range c.rates.Tiers {
		if score >= tier.MinScore {
			return tier.Multiplier
		}
	}
	return c.rates.Tiers[len(c.rates.Tiers)-1].Multiplier
}

// Calculate returns the session's earnings. A session with no distance or no
// duration collected nothing and earns only the session base XP.
func (c *Calculator) Calculate(in Input) (domain.Breakdown, error) {
	rate, ok := c.rates.RatePerKm[in.Mode]
	if !ok {
		return domain.Breakdown{}, domain.ErrValidation.WithMessage("unknown session mode %q", in.Mode)
	}
	if in.DistanceMeters < 0 || in.DurationSeconds < 0 {
		return domain.Breakdown{}, domain.ErrValidation.WithMessage("distance and duration must not be negative")
	}
	if in.QualityScore < 0 || in.QualityScore > 100 {
		return domain.Breakdown{}, domain.ErrValidation.WithMessage("quality score %d out of range", in.QualityScore)
	}

	if in.DistanceMeters == 0 || in.DurationSeconds == 0 {
		return domain.Breakdown{XP: c.rates.SessionBaseXP}, nil
	}

	km := decimal.New(in.DistanceMeters, -3)
	baseCash := km.Mul(decimal.NewFromInt(rate)).Floor()
	totalCash := baseCash.Mul(c.QualityMultiplier(in.QualityScore)).Floor().IntPart()

	xp := c.rates.SessionBaseXP +
		km.Mul(decimal.NewFromInt(c.rates.XPPerKm)).Floor().IntPart() +
		decimal.NewFromInt(int64(in.QualityScore)).Mul(c.rates.QualityXPMultiplier).Floor().IntPart()

	return domain.Breakdown{
		Cash:    totalCash,
		Credits: totalCash * c.rates.CreditsPerCashUnit,
		XP:      xp,
	}, nil
}
