package shared

import (
	"fmt"
	"strconv"
	"strings"
)

// Document number prefixes.
const (
	PrefixDeliveryNote = "DN"
	PrefixServiceForm  = "SF"
)

// DocNumberPattern returns the LIKE pattern matching every number of prefix in year.
func DocNumberPattern(prefix string, year int) string {
	return fmt.Sprintf("%s-%d-%%", prefix, year)
}

// FormatDocNumber renders PREFIX-YYYY-NNNN.
func FormatDocNumber(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}

// NextDocNumber increments the highest number already issued for prefix in year.
// An empty last starts the sequence at one.
func NextDocNumber(prefix string, year int, last string) (string, error) {
	if last == "" {
		return FormatDocNumber(prefix, year, 1), nil
	}
	head := fmt.Sprintf("%s-%d-", prefix, year)
	if !strings.HasPrefix(last, head) {
		return "", fmt.Errorf("docnumber: %q does not belong to %s", last, strings.TrimSuffix(head, "-"))
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(last, head))
	if err != nil {
		return "", fmt.Errorf("docnumber: parse sequence of %q: %w", last, err)
	}
	return FormatDocNumber(prefix, year, seq+1), nil
}
