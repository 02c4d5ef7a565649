package flow

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// amountRe accepts "<positive number>[ <3-letter code>]", e.g. "10",
// "12.50" or "10 USD".
var amountRe = regexp.MustCompile(`^([0-9]+(?:[.,][0-9]{1,2})?)(?:\s+([A-Za-z]{3}))?$`)

// ParseAmount parses the wizard's amount input into cents plus an upper-case
// currency code, falling back to the provided default when the code is
// omitted. Zero, negative and malformed amounts are rejected.
func ParseAmount(input, defaultCurrency string) (int64, string, bool) {
	s := strings.TrimSpace(input)
	m := amountRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", false
	}

	num := strings.ReplaceAll(m[1], ",", ".")
	whole, frac, _ := strings.Cut(num, ".")
	cents, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, "", false
	}
	// Whole parts this large would wrap the cents arithmetic.
	if cents > (math.MaxInt64-99)/100 {
		return 0, "", false
	}
	cents *= 100
	if frac != "" {
		if len(frac) == 1 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, "", false
		}
		cents += f
	}
	if cents <= 0 {
		return 0, "", false
	}

	currency := strings.ToUpper(m[2])
	if currency == "" {
		currency = defaultCurrency
	}
	return cents, currency, true
}

// FormatCents renders cents as a two-decimal amount string.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// splitShares divides the total evenly across the members, each share
// rounded half-up to a cent. The first member absorbs the rounding
// remainder so the shares always sum to the total; both paid and owed of a
// share carry the same value.
func splitShares(total int64, members []int64) []Share {
	n := int64(len(members))
	if n == 0 {
		return nil
	}
	base := (total + n/2) / n
	shares := make([]Share, 0, len(members))
	for i, id := range members {
		amount := base
		if i == 0 {
			amount = total - base*(n-1)
		}
		shares = append(shares, Share{MemberID: id, Paid: amount, Owed: amount})
	}
	return shares
}
