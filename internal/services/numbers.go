package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/codyseavey/poke-collection/internal/models"
)

var (
	fractionNumberRe = regexp.MustCompile(`^[A-Za-z]*0*(\d+)\s*/\s*\d+$`)
	prefixedNumberRe = regexp.MustCompile(`^[A-Za-z]+0*(\d+)$`)
	numDenRe         = regexp.MustCompile(`^(\d+)\s*/\s*(\d+)$`)
	subsetNumberRe   = regexp.MustCompile(`^([A-Za-z]+)\s*0*(\d{1,3})$`)
	nonDigitRe       = regexp.MustCompile(`\D`)
)

// PrintNumberKey is the canonical lookup key of a print number.
// Numeric keys compare by value so "007/165", "7" and "GG07" share one key.
type PrintNumberKey struct {
	Numeric bool
	Number  int
	Text    string
}

// String returns the text form used to index catalogs
func (k PrintNumberKey) String() string {
	if k.Numeric {
		return strconv.Itoa(k.Number)
	}
	return k.Text
}

func numericKey(digits string) (PrintNumberKey, bool) {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return PrintNumberKey{}, false
	}
	return PrintNumberKey{Numeric: true, Number: n}, true
}

// NormalizePrintNumber converts a raw print number into its canonical key.
// It never fails: when no numeric form can be recovered the trimmed input is
// used as an opaque string key.
func NormalizePrintNumber(raw string) PrintNumberKey {
	s := strings.TrimSpace(raw)
	opaque := PrintNumberKey{Text: s}

	if m := fractionNumberRe.FindStringSubmatch(s); m != nil {
		if k, ok := numericKey(m[1]); ok {
			return k
		}
		return opaque
	}

	if m := prefixedNumberRe.FindStringSubmatch(s); m != nil {
		if k, ok := numericKey(m[1]); ok {
			return k
		}
		return opaque
	}

	digits := nonDigitRe.ReplaceAllString(s, "")
	if digits == "" {
		return opaque
	}
	if k, ok := numericKey(digits); ok {
		return k
	}
	return opaque
}

// LookupEntry finds the price entry of a print number in a catalog.
// The canonical key wins over a literal match of the raw string.
func LookupEntry(catalog models.PriceCatalog, raw string) (models.PriceEntry, bool) {
	if len(catalog) == 0 {
		return models.PriceEntry{}, false
	}
	if e, ok := catalog[NormalizePrintNumber(raw).String()]; ok {
		return e, true
	}
	literal := strings.ToUpper(strings.TrimSpace(raw))
	if literal == "" {
		return models.PriceEntry{}, false
	}
	e, ok := catalog[literal]
	return e, ok
}

// isPlainNumber reports whether an upper-cased print number is bare digits or
// a "N/D" fraction, the forms that own a canonical catalog key.
func isPlainNumber(literal string) bool {
	if literal == "" {
		return false
	}
	if numDenRe.MatchString(literal) {
		return true
	}
	return !nonDigitRe.MatchString(literal)
}

// ParseNumDen splits an "N/D" print number into numerator and denominator
func ParseNumDen(raw string) (num, den int, ok bool) {
	m := numDenRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, false
	}
	num, err1 := strconv.Atoi(m[1])
	den, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return num, den, true
}

// ParseSubsetNumber splits a gallery number such as "GG05" into its
// upper-cased prefix and number
func ParseSubsetNumber(raw string) (prefix string, n int, ok bool) {
	m := subsetNumberRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return strings.ToUpper(m[1]), n, true
}
