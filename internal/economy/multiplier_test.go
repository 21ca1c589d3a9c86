package economy

import "testing"

func TestApplyMultipliers_CreditComposition(t *testing.T) {
	// Класс с инкрементом 0.1 и группой из 4 одобренных участников даёт
	// групповой множитель 1.4; кредит 100 с персональным 1.2 → floor(168).
	g := GroupMultiplierFor(0.1, 4, 1.0, false)
	if g != 1.4 {
		t.Fatalf("group multiplier = %v, want 1.4", g)
	}

	res := ApplyMultipliers(100, 1.2, g, true, true)
	if res.FinalAmount != 168 {
		t.Fatalf("final = %d, want 168", res.FinalAmount)
	}
	if res.AppliedPersonal != 1.2 || res.AppliedGroup != 1.4 {
		t.Fatalf("applied multipliers = %v/%v, want 1.2/1.4", res.AppliedPersonal, res.AppliedGroup)
	}
}

func TestApplyMultipliers_Monotonic(t *testing.T) {
	cases := []struct {
		base     int64
		personal float64
		group    float64
	}{
		{0, 1.0, 1.0},
		{1, 1.5, 1.0},
		{50, 2.0, 3.0},
		{100, 1.0, 1.0},
		{999, 1.25, 1.75},
	}

	for _, c := range cases {
		res := ApplyMultipliers(c.base, c.personal, c.group, true, true)
		if res.FinalAmount < c.base {
			t.Fatalf("base=%d p=%v g=%v: final %d < base", c.base, c.personal, c.group, res.FinalAmount)
		}
	}
}

func TestApplyMultipliers_DebitImmunity(t *testing.T) {
	cases := []struct {
		base          int64
		personal      float64
		group         float64
		applyPersonal bool
		applyGroup    bool
	}{
		{-1, 2.0, 2.0, true, true},
		{-50, 0.5, 3.0, true, false},
		{-100, 10.0, 10.0, false, true},
	}

	for _, c := range cases {
		res := ApplyMultipliers(c.base, c.personal, c.group, c.applyPersonal, c.applyGroup)
		if res.FinalAmount != c.base {
			t.Fatalf("debit %d amplified to %d", c.base, res.FinalAmount)
		}
		if res.AppliedPersonal != 1 || res.AppliedGroup != 1 {
			t.Fatalf("debit must record neutral multipliers, got %v/%v", res.AppliedPersonal, res.AppliedGroup)
		}
	}
}

func TestApplyMultipliers_FlagsDisableMultipliers(t *testing.T) {
	res := ApplyMultipliers(100, 2.0, 3.0, false, false)
	if res.FinalAmount != 100 {
		t.Fatalf("final = %d, want 100", res.FinalAmount)
	}

	res = ApplyMultipliers(100, 2.0, 3.0, true, false)
	if res.FinalAmount != 200 {
		t.Fatalf("final = %d, want 200", res.FinalAmount)
	}
	if res.AppliedGroup != 1 {
		t.Fatalf("disabled group multiplier recorded as %v", res.AppliedGroup)
	}
}

func TestGroupMultiplierFor_ManualWins(t *testing.T) {
	if g := GroupMultiplierFor(0.1, 4, 2.5, true); g != 2.5 {
		t.Fatalf("manual multiplier = %v, want 2.5", g)
	}
	if g := GroupMultiplierFor(0, 4, 0, false); g != 1.0 {
		t.Fatalf("default multiplier = %v, want 1.0", g)
	}
}
