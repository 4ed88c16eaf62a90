// Package fiscal verifies Brazilian fiscal receipts (NF-e / NFC-e) against an
// external consultation service.
package fiscal

const AccessKeyLength = 44

// ValidAccessKey reports whether key is 44 digits whose last digit matches
// the mod-11 check digit of the first 43.
func ValidAccessKey(key string) bool {
	if len(key) != AccessKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}
	return checkDigit(key[:AccessKeyLength-1]) == int(key[AccessKeyLength-1]-'0')
}

// checkDigit applies weights 2..9, cycling, from the rightmost digit.
func checkDigit(digits string) int {
	sum, weight := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	dv := 11 - sum%11
	if dv >= 10 {
		return 0
	}
	return dv
}
