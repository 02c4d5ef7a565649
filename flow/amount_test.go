package flow

import "testing"

func TestParseAmount(t *testing.T) {
	cases := []struct {
		input    string
		cents    int64
		currency string
		ok       bool
	}{
		{"10", 1000, "USD", true},
		{"  10  ", 1000, "USD", true},
		{"12.50", 1250, "USD", true},
		{"12,5", 1250, "USD", true},
		{"0.05", 5, "USD", true},
		{"10 eur", 1000, "EUR", true},
		{"10 USD", 1000, "USD", true},
		{"0", 0, "", false},
		{"0.00", 0, "", false},
		{"-5", 0, "", false},
		{"abc", 0, "", false},
		{"", 0, "", false},
		{"10.999", 0, "", false},
		{"10 EURO", 0, "", false},
		{"10USD", 0, "", false},
		{"92233720368547757.99", 9223372036854775799, "USD", true},
		{"92233720368547758", 0, "", false},
		{"184467440737095517", 0, "", false},
		{"99999999999999999999", 0, "", false},
	}
	for _, tc := range cases {
		cents, currency, ok := ParseAmount(tc.input, "USD")
		if ok != tc.ok {
			t.Fatalf("ParseAmount(%q) ok = %v, expected %v", tc.input, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if cents != tc.cents || currency != tc.currency {
			t.Fatalf("ParseAmount(%q) = (%d, %s), expected (%d, %s)",
				tc.input, cents, currency, tc.cents, tc.currency)
		}
	}
}

func TestFormatCents(t *testing.T) {
	cases := []struct {
		cents int64
		out   string
	}{
		{1000, "10.00"},
		{1250, "12.50"},
		{5, "0.05"},
		{0, "0.00"},
		{-150, "-1.50"},
	}
	for _, tc := range cases {
		if got := FormatCents(tc.cents); got != tc.out {
			t.Fatalf("FormatCents(%d) = %s, expected %s", tc.cents, got, tc.out)
		}
	}
}

func TestSplitSharesEven(t *testing.T) {
	shares := splitShares(3000, []int64{11, 12, 13})
	if len(shares) != 3 {
		t.Fatalf("expected 3 shares, got %d", len(shares))
	}
	for _, s := range shares {
		if s.Owed != 1000 || s.Paid != 1000 {
			t.Fatalf("member %d share = (%d, %d), expected (1000, 1000)", s.MemberID, s.Paid, s.Owed)
		}
	}
}

func TestSplitSharesRemainderGoesFirst(t *testing.T) {
	shares := splitShares(1000, []int64{11, 12, 13})
	if shares[0].Owed != 334 {
		t.Fatalf("first share = %d, expected 334", shares[0].Owed)
	}
	if shares[1].Owed != 333 || shares[2].Owed != 333 {
		t.Fatalf("tail shares = (%d, %d), expected (333, 333)", shares[1].Owed, shares[2].Owed)
	}
}

func TestSplitSharesSumToTotal(t *testing.T) {
	members := []int64{1, 2, 3, 4, 5, 6, 7}
	for total := int64(1); total < 500; total++ {
		var sum int64
		for _, s := range splitShares(total, members) {
			sum += s.Owed
		}
		if sum != total {
			t.Fatalf("shares of %d sum to %d", total, sum)
		}
	}
}

func TestSplitSharesSingleMember(t *testing.T) {
	shares := splitShares(777, []int64{42})
	if len(shares) != 1 || shares[0].Owed != 777 {
		t.Fatalf("unexpected shares: %+v", shares)
	}
}

func TestSplitSharesNoMembers(t *testing.T) {
	if shares := splitShares(100, nil); shares != nil {
		t.Fatalf("expected nil, got %+v", shares)
	}
}
