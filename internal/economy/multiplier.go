// Package economy содержит чистую логику классной экономики: применение
// множителей к начислениям и расчёт кворума группового голосования.
package economy

import "github.com/shopspring/decimal"

// ApplyResult — итог применения множителей к базовой сумме. Фактически
// применённые множители (после учёта флагов) фиксируются в транзакции.
type ApplyResult struct {
	FinalAmount     int64
	AppliedPersonal float64
	AppliedGroup    float64
}

// ApplyMultipliers применяет персональный и групповой множители к базовой сумме
// битсов. Списания (base < 0) множителями не усиливаются и проходят как есть,
// независимо от флагов. Для начислений итог округляется вниз.
func ApplyMultipliers(base int64, personal, group float64, applyPersonal, applyGroup bool) ApplyResult {
	if base < 0 {
		return ApplyResult{
			FinalAmount:     base,
			AppliedPersonal: 1,
			AppliedGroup:    1,
		}
	}

	p := 1.0
	if applyPersonal {
		p = personal
	}
	g := 1.0
	if applyGroup {
		g = group
	}

	// Десятичная арифметика: при float64 умножение 100*1.2*1.4 даёт
	// 167.99999999999997 и floor теряет единицу.
	final := decimal.NewFromInt(base).
		Mul(decimal.NewFromFloat(p)).
		Mul(decimal.NewFromFloat(g)).
		Floor().
		IntPart()

	return ApplyResult{
		FinalAmount:     final,
		AppliedPersonal: p,
		AppliedGroup:    g,
	}
}

// GroupMultiplierFor вычисляет групповой множитель. При заданном инкременте
// набора групп множитель выводится из числа одобренных участников; вручную
// выставленное значение инкремент не перекрывает.
func GroupMultiplierFor(increment float64, approvedCount int, manual float64, isManual bool) float64 {
	if isManual || increment <= 0 {
		if manual <= 0 {
			return 1.0
		}
		return manual
	}
	return decimal.NewFromInt(1).
		Add(decimal.NewFromInt(int64(approvedCount)).Mul(decimal.NewFromFloat(increment))).
		InexactFloat64()
}
