package reward

import (
	"testing"

	"meritflow/internal/domain"
)

func TestAmountKnownValues(t *testing.T) {
	var calc Calculator
	cases := []struct {
		quality float64
		typ     string
		bonus   float64
		want    float64
	}{
		{80, domain.TypeCode, 0, 25.5},     // 10 * 1.7 * 1.5
		{80, domain.TypeDocument, 0, 17.0}, // 10 * 1.7 * 1.0
		{0, domain.TypeOther, 0, 5.0},      // floor multiplier 0.5
		{100, domain.TypeCode, 0, 30.0},    // ceiling multiplier 2.0
		{100, domain.TypeCode, 0.5, 45.0},
		{100, domain.TypeCode, 2.0, 60.0}, // bonus capped at 100%
		{80, "unknown", 0, 17.0},          // unknown types weigh 1.0
	}
	for _, tc := range cases {
		got := calc.Amount(tc.quality, tc.typ, tc.bonus)
		if got != tc.want {
			t.Errorf("Amount(%v, %s, %v) = %v, want %v", tc.quality, tc.typ, tc.bonus, got, tc.want)
		}
	}
}

func TestAmountMonotonicInQuality(t *testing.T) {
	var calc Calculator
	prev := -1.0
	for q := 0.0; q <= 100; q += 5 {
		got := calc.Amount(q, domain.TypeDataset, 0)
		if got <= prev {
			t.Fatalf("Amount not increasing at quality %v: %v <= %v", q, got, prev)
		}
		prev = got
	}
}

func TestAmountTypeOrdering(t *testing.T) {
	var calc Calculator
	code := calc.Amount(80, domain.TypeCode, 0)
	doc := calc.Amount(80, domain.TypeDocument, 0)
	if code <= doc {
		t.Fatalf("code reward %v should exceed document reward %v", code, doc)
	}
}

func TestAmountInvalidQualityIsSafeZero(t *testing.T) {
	var calc Calculator
	if got := calc.Amount(150, domain.TypeCode, 0); got != 0.0 {
		t.Fatalf("Amount(150) = %v, want safe 0.0", got)
	}
	if got := calc.Amount(-1, domain.TypeCode, 0); got != 0.0 {
		t.Fatalf("Amount(-1) = %v, want safe 0.0", got)
	}
}

func TestAmountConfiguredTariff(t *testing.T) {
	calc := Calculator{Base: 20, ComplexityWeights: map[string]float64{domain.TypeCode: 2.0}}
	if got := calc.Amount(100, domain.TypeCode, 0); got != 80.0 {
		t.Fatalf("configured Amount = %v, want 80.0", got)
	}
	// types missing from the configured table fall back to 1.0
	if got := calc.Amount(100, domain.TypeDataset, 0); got != 40.0 {
		t.Fatalf("fallback weight Amount = %v, want 40.0", got)
	}
}

func TestReputationBonusComponents(t *testing.T) {
	cases := []struct {
		total   int
		quality float64
		rep     float64
		want    float64
	}{
		{0, 0, 0, 0},
		{1000, 100, 100, 1.0}, // all components saturate
		{100, 0, 0, 0.3},      // count bonus cap
		{0, 100, 0, 0.4},      // quality component
		{0, 0, 3, 0.3},        // reputation cap
	}
	for _, tc := range cases {
		got := ReputationBonus(tc.total, tc.quality, tc.rep)
		if got != tc.want {
			t.Errorf("ReputationBonus(%d, %v, %v) = %v, want %v", tc.total, tc.quality, tc.rep, got, tc.want)
		}
	}
}

func TestReputationBonusDeterministic(t *testing.T) {
	a := ReputationBonus(42, 87.5, 4.2)
	b := ReputationBonus(42, 87.5, 4.2)
	if a != b {
		t.Fatalf("bonus not deterministic: %v vs %v", a, b)
	}
}
