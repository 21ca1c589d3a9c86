package reward

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/prizeversity/prizeversity/internal/model"
)

func boxTemplate(pool []model.PoolEntry) model.MysteryBoxTemplate {
	return model.MysteryBoxTemplate{
		ItemID:            "box-1",
		Name:              "Test Box",
		LuckMultiplier:    1.0,
		PityEnabled:       true,
		PityThreshold:     3,
		PityMinimumRarity: model.RarityRare,
		Pool:              pool,
	}
}

func TestValidateTemplate(t *testing.T) {
	tests := []struct {
		name    string
		pool    []model.PoolEntry
		wantErr string
	}{
		{
			name: "valid",
			pool: []model.PoolEntry{
				{ItemID: "a", Rarity: model.RarityCommon, BaseDropChance: 60},
				{ItemID: "b", Rarity: model.RarityRare, BaseDropChance: 40},
			},
		},
		{
			name: "sum not 100",
			pool: []model.PoolEntry{
				{ItemID: "a", Rarity: model.RarityCommon, BaseDropChance: 60},
				{ItemID: "b", Rarity: model.RarityRare, BaseDropChance: 30},
			},
			wantErr: "sum to exactly 100",
		},
		{
			name: "duplicate item",
			pool: []model.PoolEntry{
				{ItemID: "a", Rarity: model.RarityCommon, BaseDropChance: 60},
				{ItemID: "a", Rarity: model.RarityRare, BaseDropChance: 40},
			},
			wantErr: "referenced twice",
		},
		{
			name: "nested box",
			pool: []model.PoolEntry{
				{ItemID: "a", Category: model.ItemCategoryMysteryBox, Rarity: model.RarityRare, BaseDropChance: 100},
			},
			wantErr: "cannot contain another mystery box",
		},
		{
			name: "nothing at pity minimum",
			pool: []model.PoolEntry{
				{ItemID: "a", Rarity: model.RarityCommon, BaseDropChance: 100},
			},
			wantErr: "pity minimum rarity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTemplate(boxTemplate(tt.pool))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFinalChances_NormalizedForAnyLuck(t *testing.T) {
	tmpl := boxTemplate([]model.PoolEntry{
		{ItemID: "a", Rarity: model.RarityCommon, BaseDropChance: 50},
		{ItemID: "b", Rarity: model.RarityUncommon, BaseDropChance: 30},
		{ItemID: "c", Rarity: model.RarityRare, BaseDropChance: 15},
		{ItemID: "d", Rarity: model.RarityLegendary, BaseDropChance: 5},
	})

	for _, luck := range []float64{0.5, 1, 1.5, 2, 10} {
		chances := FinalChances(tmpl, luck)
		sum := 0.0
		for _, c := range chances {
			sum += c
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Fatalf("luck=%v: chances sum to %v, want 1", luck, sum)
		}
	}
}

func TestFinalChances_NeutralLuckKeepsBaseChances(t *testing.T) {
	tmpl := boxTemplate([]model.PoolEntry{
		{ItemID: "a", Rarity: model.RarityCommon, BaseDropChance: 60},
		{ItemID: "b", Rarity: model.RarityRare, BaseDropChance: 40},
	})

	chances := FinalChances(tmpl, 1)
	if math.Abs(chances[0]-0.6) > 1e-9 || math.Abs(chances[1]-0.4) > 1e-9 {
		t.Fatalf("chances = %v, want [0.6 0.4]", chances)
	}
}

func TestFinalChances_LuckFavorsRarerTiers(t *testing.T) {
	tmpl := boxTemplate([]model.PoolEntry{
		{ItemID: "a", Rarity: model.RarityCommon, BaseDropChance: 60},
		{ItemID: "b", Rarity: model.RarityRare, BaseDropChance: 40},
	})

	base := FinalChances(tmpl, 1)
	lucky := FinalChances(tmpl, 2)
	if lucky[1] <= base[1] {
		t.Fatalf("rare chance did not grow with luck: %v -> %v", base[1], lucky[1])
	}
	if lucky[0] >= base[0] {
		t.Fatalf("common chance did not shrink with luck: %v -> %v", base[0], lucky[0])
	}
}

func TestOpen_PityGuarantee(t *testing.T) {
	tmpl := boxTemplate([]model.PoolEntry{
		{ItemID: "a", Rarity: model.RarityCommon, BaseDropChance: 95},
		{ItemID: "b", Rarity: model.RarityRare, BaseDropChance: 5},
	})

	recent := []model.Rarity{model.RarityCommon, model.RarityCommon, model.RarityUncommon}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 100; i++ {
		res, err := Open(tmpl, 1, recent, rng)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !res.PityFired {
			t.Fatalf("pity did not fire after full low streak")
		}
		if model.RarityRank(res.Item.Rarity) < model.RarityRank(model.RarityRare) {
			t.Fatalf("pity awarded %s below minimum", res.Item.Rarity)
		}
	}
}

func TestOpen_NoPityBeforeFullStreak(t *testing.T) {
	tmpl := boxTemplate([]model.PoolEntry{
		{ItemID: "a", Rarity: model.RarityCommon, BaseDropChance: 95},
		{ItemID: "b", Rarity: model.RarityRare, BaseDropChance: 5},
	})

	recent := []model.Rarity{model.RarityCommon, model.RarityCommon}
	rng := rand.New(rand.NewSource(1))

	res, err := Open(tmpl, 1, recent, rng)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if res.PityFired {
		t.Fatalf("pity fired with incomplete streak")
	}
}

func TestOpen_StreakResetByHighAward(t *testing.T) {
	tmpl := boxTemplate(nil)

	recent := []model.Rarity{model.RarityCommon, model.RarityCommon}
	recent = PushRecent(tmpl, recent, model.RarityEpic, false)
	if len(recent) != 3 {
		t.Fatalf("recent ring = %v", recent)
	}
	if PityDue(tmpl, recent) {
		t.Fatalf("pity due despite epic in the ring")
	}

	// Сработавшая гарантия всегда обнуляет серию.
	if got := PushRecent(tmpl, recent, model.RarityCommon, true); got != nil {
		t.Fatalf("pity award must reset the ring, got %v", got)
	}
}

func TestPushRecent_RingBounded(t *testing.T) {
	tmpl := boxTemplate(nil)

	var recent []model.Rarity
	for i := 0; i < 10; i++ {
		recent = PushRecent(tmpl, recent, model.RarityCommon, false)
	}
	if len(recent) != tmpl.PityThreshold {
		t.Fatalf("ring size = %d, want %d", len(recent), tmpl.PityThreshold)
	}
}

func TestOpen_DistributionWalksCumulative(t *testing.T) {
	tmpl := boxTemplate([]model.PoolEntry{
		{ItemID: "a", Rarity: model.RarityCommon, BaseDropChance: 60},
		{ItemID: "b", Rarity: model.RarityRare, BaseDropChance: 40},
	})

	rng := rand.New(rand.NewSource(42))
	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		res, err := Open(tmpl, 1, nil, rng)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		counts[res.Item.ItemID]++
	}

	// При 10000 бросков доля common должна держаться около 0.6.
	frac := float64(counts["a"]) / 10000
	if frac < 0.55 || frac > 0.65 {
		t.Fatalf("common fraction = %v, want around 0.6", frac)
	}
}
