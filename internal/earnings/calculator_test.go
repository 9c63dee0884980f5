package earnings

import (
	"testing"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate_DashcamExcellentQuality(t *testing.T) {
	calc := MustNewCalculator(DefaultRates())

	got, err := calc.Calculate(Input{
		Mode:            domain.ModeDashcam,
		DistanceMeters:  10000,
		DurationSeconds: 1800,
		QualityScore:    95,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(150), got.Cash)
	assert.Equal(t, int64(1500), got.Credits)
	assert.Equal(t, int64(107), got.XP)
}

func TestCalculate_Table(t *testing.T) {
	calc := MustNewCalculator(DefaultRates())

	tests := []struct {
		name string
		in   Input
		want domain.Breakdown
	}{
		{
			name: "passive floors fractional km",
			in:   Input{Mode: domain.ModePassive, DistanceMeters: 2999, DurationSeconds: 60, QualityScore: 80},
			// floor(2.999*1)=2, floor(2*1.2)=2, xp=10+floor(14.995)+40
			want: domain.Breakdown{Cash: 2, Credits: 20, XP: 64},
		},
		{
			name: "explore average quality",
			in:   Input{Mode: domain.ModeExplore, DistanceMeters: 4000, DurationSeconds: 600, QualityScore: 50},
			want: domain.Breakdown{Cash: 100, Credits: 1000, XP: 10 + 20 + 25},
		},
		{
			name: "poor quality multiplier",
			in:   Input{Mode: domain.ModeDashcam, DistanceMeters: 10000, DurationSeconds: 600, QualityScore: 49},
			want: domain.Breakdown{Cash: 70, Credits: 700, XP: 10 + 50 + 24},
		},
		{
			name: "tier boundary 90",
			in:   Input{Mode: domain.ModeDashcam, DistanceMeters: 1000, DurationSeconds: 60, QualityScore: 90},
			want: domain.Breakdown{Cash: 15, Credits: 150, XP: 10 + 5 + 45},
		},
		{
			name: "tier boundary 70",
			in:   Input{Mode: domain.ModeDashcam, DistanceMeters: 1000, DurationSeconds: 60, QualityScore: 70},
			want: domain.Breakdown{Cash: 12, Credits: 120, XP: 10 + 5 + 35},
		},
		{
			name: "zero distance earns base xp only",
			in:   Input{Mode: domain.ModeExplore, DistanceMeters: 0, DurationSeconds: 600, QualityScore: 100},
			want: domain.Breakdown{XP: 10},
		},
		{
			name: "zero duration earns base xp only",
			in:   Input{Mode: domain.ModeExplore, DistanceMeters: 5000, DurationSeconds: 0, QualityScore: 100},
			want: domain.Breakdown{XP: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.Calculate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculate_IsDeterministic(t *testing.T) {
	calc := MustNewCalculator(DefaultRates())
	in := Input{Mode: domain.ModeExplore, DistanceMeters: 12345, DurationSeconds: 777, QualityScore: 73}

	first, err := calc.Calculate(in)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := calc.Calculate(in)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestCalculate_RejectsInvalidInput(t *testing.T) {
	calc := MustNewCalculator(DefaultRates())

	_, err := calc.Calculate(Input{Mode: "hover", DistanceMeters: 10, DurationSeconds: 10})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = calc.Calculate(Input{Mode: domain.ModePassive, DistanceMeters: -1, DurationSeconds: 10})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = calc.Calculate(Input{Mode: domain.ModePassive, DistanceMeters: 10, DurationSeconds: 10, QualityScore: 101})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewCalculator_SortsAndValidatesTiers(t *testing.T) {
	tiers, err := ParseTiers("0:0.5, 80:2")
	require.NoError(t, err)

	rates := DefaultRates()
	rates.Tiers = tiers
	calc, err := NewCalculator(rates)
	require.NoError(t, err)

	assert.True(t, calc.QualityMultiplier(80).Equal(decimal.NewFromInt(2)))
	assert.True(t, calc.QualityMultiplier(79).Equal(decimal.RequireFromString("0.5")))

	rates.Tiers = []Tier{{MinScore: 10, Multiplier: decimal.NewFromInt(1)}}
	_, err = NewCalculator(rates)
	assert.Error(t, err)

	rates.Tiers = []Tier{{MinScore: 0, Multiplier: decimal.NewFromInt(-1)}}
	_, err = NewCalculator(rates)
	assert.Error(t, err)
}

func TestParseTiers_RejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "90", "x:1.5", "90:abc"} {
		_, err := ParseTiers(raw)
		assert.Error(t, err, raw)
	}
}
