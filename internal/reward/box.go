// Package reward реализует розыгрыш наград мистери-бокса: взвешенный выбор по
// пулу с поправкой на удачу и гарантию минимального тира (pity).
package reward

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/prizeversity/prizeversity/internal/model"
)

// ErrEmptyPool возвращается при попытке розыгрыша по пустому пулу.
var ErrEmptyPool = errors.New("mystery box pool is empty")

// rarityWeights — фиксированная возрастающая шкала чувствительности тира к
// бонусу удачи: чем реже предмет, тем сильнее удача поднимает его шанс.
var rarityWeights = map[model.Rarity]float64{
	model.RarityCommon:    0.20,
	model.RarityUncommon:  0.40,
	model.RarityRare:      0.60,
	model.RarityEpic:      0.80,
	model.RarityLegendary: 1.00,
}

// ValidateTemplate проверяет инварианты шаблона мистери-бокса при создании или
// обновлении. Нарушение возвращает описательную ошибку, молчаливой коррекции нет.
func ValidateTemplate(tmpl model.MysteryBoxTemplate) error {
	if len(tmpl.Pool) == 0 {
		return errors.New("mystery box pool must not be empty")
	}

	total := 0.0
	seen := make(map[string]struct{}, len(tmpl.Pool))
	anyAtMinimum := false
	for _, e := range tmpl.Pool {
		if e.BaseDropChance <= 0 {
			return fmt.Errorf("item %s: base drop chance must be positive, got %v", e.ItemID, e.BaseDropChance)
		}
		if _, ok := seen[e.ItemID]; ok {
			return fmt.Errorf("item %s referenced twice in pool", e.ItemID)
		}
		seen[e.ItemID] = struct{}{}
		if e.Category == model.ItemCategoryMysteryBox {
			return fmt.Errorf("item %s: mystery box cannot contain another mystery box", e.ItemID)
		}
		if model.RarityRank(e.Rarity) >= model.RarityRank(tmpl.PityMinimumRarity) {
			anyAtMinimum = true
		}
		total += e.BaseDropChance
	}

	if total != 100 {
		return fmt.Errorf("pool drop chances must sum to exactly 100, got %v", total)
	}

	if tmpl.PityEnabled {
		if tmpl.PityThreshold < 1 {
			return fmt.Errorf("pity threshold must be at least 1, got %d", tmpl.PityThreshold)
		}
		if model.RarityRank(tmpl.PityMinimumRarity) == 0 {
			return fmt.Errorf("unknown pity minimum rarity %q", tmpl.PityMinimumRarity)
		}
		if !anyAtMinimum {
			return fmt.Errorf("no pool item at or above pity minimum rarity %s", tmpl.PityMinimumRarity)
		}
	}

	return nil
}

// FinalChances возвращает нормированное распределение шансов пула с учётом
// удачи ученика: bonus = max(0, luck−1)×luckMultiplier, шанс каждого предмета
// умножается на (1 + bonus×вес тира) и распределение нормируется до суммы 1.
func FinalChances(tmpl model.MysteryBoxTemplate, luck float64) []float64 {
	bonus := (luck - 1) * tmpl.LuckMultiplier
	if bonus < 0 {
		bonus = 0
	}

	adjusted := make([]float64, len(tmpl.Pool))
	sum := 0.0
	for i, e := range tmpl.Pool {
		adjusted[i] = e.BaseDropChance * (1 + bonus*rarityWeights[e.Rarity])
		sum += adjusted[i]
	}

	for i := range adjusted {
		adjusted[i] /= sum
	}
	return adjusted
}

// PityDue сообщает, накопил ли ученик полную серию открытий ниже минимального
// тира и положена ли ему гарантия на следующий розыгрыш.
func PityDue(tmpl model.MysteryBoxTemplate, recent []model.Rarity) bool {
	if !tmpl.PityEnabled || len(recent) < tmpl.PityThreshold {
		return false
	}
	for _, r := range recent {
		if model.RarityRank(r) >= model.RarityRank(tmpl.PityMinimumRarity) {
			return false
		}
	}
	return true
}

// Result — итог одного открытия бокса.
type Result struct {
	Index     int
	Item      model.PoolEntry
	PityFired bool
}

// Open разыгрывает одну награду. При сработавшей гарантии выбор делается
// равномерно среди предметов не ниже минимального тира, взвешенный бросок
// пропускается и серия обнуляется; иначе — проход по кумулятивному
// нормированному распределению.
func Open(tmpl model.MysteryBoxTemplate, luck float64, recent []model.Rarity, rng *rand.Rand) (Result, error) {
	if len(tmpl.Pool) == 0 {
		return Result{}, ErrEmptyPool
	}

	if PityDue(tmpl, recent) {
		var candidates []int
		for i, e := range tmpl.Pool {
			if model.RarityRank(e.Rarity) >= model.RarityRank(tmpl.PityMinimumRarity) {
				candidates = append(candidates, i)
			}
		}
		idx := candidates[rng.Intn(len(candidates))]
		return Result{Index: idx, Item: tmpl.Pool[idx], PityFired: true}, nil
	}

	chances := FinalChances(tmpl, luck)
	roll := rng.Float64()
	cum := 0.0
	for i, c := range chances {
		cum += c
		if roll < cum {
			return Result{Index: i, Item: tmpl.Pool[i]}, nil
		}
	}

	// Хвост накопленной погрешности: округление не должно терять бросок.
	last := len(tmpl.Pool) - 1
	return Result{Index: last, Item: tmpl.Pool[last]}, nil
}

// PushRecent добавляет тир в кольцо последних открытий, ограниченное
// pityThreshold. Сработавшая гарантия обнуляет серию.
func PushRecent(tmpl model.MysteryBoxTemplate, recent []model.Rarity, awarded model.Rarity, pityFired bool) []model.Rarity {
	if pityFired {
		return nil
	}
	recent = append(recent, awarded)
	if tmpl.PityThreshold > 0 && len(recent) > tmpl.PityThreshold {
		recent = recent[len(recent)-tmpl.PityThreshold:]
	}
	return recent
}
