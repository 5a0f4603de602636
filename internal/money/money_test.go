package money

import "testing"

func TestSumIsExact(t *testing.T) {
	// 0.10 + 0.20 is the classic binary-float trap; the decimal sum must be
	// exactly 0.30.
	total, err := Sum("0.10", "0.20")
	if err != nil {
		t.Fatalf("sum failed: %v", err)
	}
	if total != "0.30" {
		t.Fatalf("expected 0.30, got %s", total)
	}
}

func TestSumTreatsEmptyAsZero(t *testing.T) {
	total, err := Sum("500.00", "", "300")
	if err != nil {
		t.Fatalf("sum failed: %v", err)
	}
	if total != "800.00" {
		t.Fatalf("expected 800.00, got %s", total)
	}
}

func TestSumRejectsGarbage(t *testing.T) {
	if _, err := Sum("12.00", "twelve"); err == nil {
		t.Fatalf("expected parse error for non-numeric amount")
	}
}

func TestCanonicalTwoDecimals(t *testing.T) {
	d, err := Parse("512.5")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := Canonical(d); got != "512.50" {
		t.Fatalf("expected 512.50, got %s", got)
	}
}

func TestApplyTax(t *testing.T) {
	tax, amount, err := ApplyTax("100.00", "0.0825")
	if err != nil {
		t.Fatalf("apply tax failed: %v", err)
	}
	if tax != "8.25" {
		t.Fatalf("expected tax 8.25, got %s", tax)
	}
	if amount != "108.25" {
		t.Fatalf("expected amount 108.25, got %s", amount)
	}
}

func TestApplyTaxNoRate(t *testing.T) {
	tax, amount, err := ApplyTax("250.00", "")
	if err != nil {
		t.Fatalf("apply tax failed: %v", err)
	}
	if tax != Zero {
		t.Fatalf("expected zero tax, got %s", tax)
	}
	if amount != "250.00" {
		t.Fatalf("expected amount 250.00, got %s", amount)
	}
}

func TestIsNegative(t *testing.T) {
	neg, err := IsNegative("-0.01")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !neg {
		t.Fatalf("expected -0.01 to be negative")
	}
	neg, err = IsNegative("0.00")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if neg {
		t.Fatalf("expected 0.00 to be non-negative")
	}
}
