package validate

import "strings"

// CleanDigits strips everything except decimal digits.
func CleanDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allSameDigit(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// CPF validates an 11-digit individual taxpayer id with both check digits.
// Degenerate inputs made of a single repeated digit pass the checksum
// arithmetic but are never real ids, so they are rejected up front.
func CPF(cpf string) bool {
	cleaned := CleanDigits(cpf)
	if len(cleaned) != 11 || allSameDigit(cleaned) {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(cleaned[i]-'0') * (10 - i)
	}
	check := (sum * 10) % 11
	if check == 10 {
		check = 0
	}
	if check != int(cleaned[9]-'0') {
		return false
	}

	sum = 0
	for i := 0; i < 10; i++ {
		sum += int(cleaned[i]-'0') * (11 - i)
	}
	check = (sum * 10) % 11
	if check == 10 {
		check = 0
	}
	return check == int(cleaned[10]-'0')
}

// CNPJ validates a 14-digit corporate taxpayer id with both check digits.
func CNPJ(cnpj string) bool {
	cleaned := CleanDigits(cnpj)
	if len(cleaned) != 14 || allSameDigit(cleaned) {
		return false
	}

	weights1 := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	sum := 0
	for i := 0; i < 12; i++ {
		sum += int(cleaned[i]-'0') * weights1[i]
	}
	check := sum % 11
	if check < 2 {
		check = 0
	} else {
		check = 11 - check
	}
	if check != int(cleaned[12]-'0') {
		return false
	}

	weights2 := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	sum = 0
	for i := 0; i < 13; i++ {
		sum += int(cleaned[i]-'0') * weights2[i]
	}
	check = sum % 11
	if check < 2 {
		check = 0
	} else {
		check = 11 - check
	}
	return check == int(cleaned[13]-'0')
}

// TaxID validates either id scheme based on digit length.
func TaxID(s string) bool {
	cleaned := CleanDigits(s)
	switch len(cleaned) {
	case 11:
		return CPF(cleaned)
	case 14:
		return CNPJ(cleaned)
	default:
		return false
	}
}

// FormatCNPJ renders a cleaned 14-digit id as 00.000.000/0000-00.
// Returns the input unchanged when it is not 14 digits.
func FormatCNPJ(s string) string {
	cleaned := CleanDigits(s)
	if len(cleaned) != 14 {
		return s
	}
	return cleaned[0:2] + "." + cleaned[2:5] + "." + cleaned[5:8] + "/" + cleaned[8:12] + "-" + cleaned[12:14]
}
