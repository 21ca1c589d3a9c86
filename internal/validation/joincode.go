// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// Код присоединения к классу — ровно восемь цифр, последняя контрольная.
const joinCodeLength = 8

// IsValidJoinCode проверяет формат кода присоединения: фиксированная длина,
// только цифры, контрольная цифра по алгоритму Луна. Произвольная цифровая
// строка с верной контрольной суммой, но другой длины кодом не является.
func IsValidJoinCode(code string) bool {
	if len(code) != joinCodeLength {
		return false
	}

	sum := 0
	double := false

	for i := len(code) - 1; i >= 0; i-- {
		ch := rune(code[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}
