package payments

import "strings"

// NormalizeTaxID strips punctuation from a CPF or CNPJ.
func NormalizeTaxID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidTaxID reports whether s is a CPF (11 digits) or CNPJ (14 digits)
// with valid check digits. Punctuation is ignored.
func ValidTaxID(s string) bool {
	d := NormalizeTaxID(s)
	switch len(d) {
	case 11:
		return validCPF(d)
	case 14:
		return validCNPJ(d)
	}
	return false
}

func allSame(d string) bool {
	return strings.Count(d, d[:1]) == len(d)
}

func validCPF(d string) bool {
	if allSame(d) {
		return false
	}
	for pos := 9; pos <= 10; pos++ {
		sum := 0
		for i := 0; i < pos; i++ {
			sum += int(d[i]-'0') * (pos + 1 - i)
		}
		check := (sum * 10) % 11
		if check == 10 {
			check = 0
		}
		if check != int(d[pos]-'0') {
			return false
		}
	}
	return true
}

var cnpjWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}

func validCNPJ(d string) bool {
	if allSame(d) {
		return false
	}
	for pos := 12; pos <= 13; pos++ {
		weights := cnpjWeights[13-pos:]
		sum := 0
		for i := 0; i < pos; i++ {
			sum += int(d[i]-'0') * weights[i]
		}
		check := sum % 11
		if check < 2 {
			check = 0
		} else {
			check = 11 - check
		}
		if check != int(d[pos]-'0') {
			return false
		}
	}
	return true
}
