package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"BDT", BDT(20000), 20000, "bdt", "৳200.00"},
		{"INR", INR(15050), 15050, "inr", "₹150.50"},
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"Zero BDT", Zero("BDT"), 0, "bdt", "৳0.00"},
		{"FromMajor whole", FromMajor("bdt", 200), 20000, "bdt", "৳200.00"},
		{"FromMajor fraction", FromMajor("bdt", 150.5), 15050, "bdt", "৳150.50"},
		{"FromMajor rounds", FromMajor("bdt", 0.125), 13, "bdt", "৳0.13"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyMajorRoundTrip(t *testing.T) {
	for _, major := range []float64{0, 1, 33.33, 200, 1500.75} {
		m := FromMajor("bdt", major)
		if got := m.Major(); got != major {
			t.Errorf("Major(FromMajor(%v)) = %v", major, got)
		}
	}
}

func TestParseMajor(t *testing.T) {
	m, err := ParseMajor("bdt", " 250.5 ")
	if err != nil {
		t.Fatalf("ParseMajor failed: %v", err)
	}
	if !m.Equal(BDT(25050)) {
		t.Errorf("got %v, want ৳250.50", m)
	}

	if _, err := ParseMajor("bdt", "two hundred"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return BDT(100).Add(BDT(200)) }, BDT(300)},
		{"Subtract", func() Money { return BDT(500).Subtract(BDT(200)) }, BDT(300)},
		{"Multiply", func() Money { return BDT(100).Multiply(3) }, BDT(300)},
		{"Negate", func() Money { return BDT(100).Negate() }, BDT(-100)},
		{"Zero value adopts currency", func() Money { return Money{}.Add(BDT(700)) }, BDT(700)},
		{"Adding zero value keeps currency", func() Money { return BDT(700).Add(Money{}) }, BDT(700)},
		{"Sum", func() Money { return Sum(BDT(1), BDT(2), BDT(3)) }, BDT(6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	_ = BDT(100).Add(USD(100))
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(BDT(20000))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["display"] != "৳200.00" {
		t.Errorf("display: got %v", decoded["display"])
	}
	if decoded["amount"] != float64(20000) {
		t.Errorf("amount: got %v", decoded["amount"])
	}
}
