package ledger

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMonthPeriod(t *testing.T) {
	tests := []struct {
		year, month int
		wantEnd     string
		wantErr     bool
	}{
		{2024, 2, "2024-02-29", false},
		{2023, 2, "2023-02-28", false},
		{2024, 4, "2024-04-30", false},
		{2024, 12, "2024-12-31", false},
		{2024, 1, "2024-01-31", false},
		{2024, 0, "", true},
		{2024, 13, "", true},
	}

	for _, tt := range tests {
		p, err := MonthPeriod(tt.year, tt.month)
		if tt.wantErr {
			if !IsValidation(err) {
				t.Errorf("MonthPeriod(%d, %d) error = %v, want validation error", tt.year, tt.month, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("MonthPeriod(%d, %d) unexpected error: %v", tt.year, tt.month, err)
		}
		if got := p.Start.Format(DateLayout); got[8:] != "01" {
			t.Errorf("MonthPeriod(%d, %d) start = %s, want first of month", tt.year, tt.month, got)
		}
		if got := p.End.Format(DateLayout); got != tt.wantEnd {
			t.Errorf("MonthPeriod(%d, %d) end = %s, want %s", tt.year, tt.month, got, tt.wantEnd)
		}
	}
}

func TestYearPeriod(t *testing.T) {
	p := YearPeriod(2024)
	if p.Start.Format(DateLayout) != "2024-01-01" || p.End.Format(DateLayout) != "2024-12-31" {
		t.Errorf("YearPeriod(2024) = %s..%s", p.Start.Format(DateLayout), p.End.Format(DateLayout))
	}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal period: %v", err)
	}
	if string(b) != `{"startDate":"2024-01-01","endDate":"2024-12-31"}` {
		t.Errorf("period JSON = %s", b)
	}
}

func TestPeriodContains(t *testing.T) {
	p, _ := MonthPeriod(2024, 3)
	late := time.Date(2024, 3, 31, 23, 30, 0, 0, time.FixedZone("UTC+8", 8*3600))

	if !p.Contains(late) {
		t.Error("expected last evening of the month to be contained")
	}
	if p.Contains(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("expected first of next month to be excluded")
	}
	if p.Contains(time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)) {
		t.Error("expected previous month to be excluded")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2024-03-05", want: "2024-03-05T00:00:00Z"},
		{in: "2024-03-05T12:19", want: "2024-03-05T12:19:00Z"},
		{in: "2024-03-05T12:19:45", want: "2024-03-05T12:19:45Z"},
		{in: "2024-03-05T12:19:45+08:00", want: "2024-03-05T12:19:45+08:00"},
		{in: "  2024-03-05 ", want: "2024-03-05T00:00:00Z"},
		{in: "", wantErr: true},
		{in: "05/03/2024", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got.Format(time.RFC3339) != tt.want {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got.Format(time.RFC3339), tt.want)
			}
		})
	}
}

func TestEntryInputValidate(t *testing.T) {
	amount := decimal.NewFromInt(-200)

	err := EntryInput{}.Validate()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Fields) != 5 {
		t.Errorf("expected all 5 fields reported, got %v", ve.Fields)
	}

	valid := EntryInput{
		Name:     "Lunch",
		Category: CategoryFood,
		Date:     time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Amount:   &amount,
		Account:  "Cash",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid input, got %v", err)
	}

	zero := decimal.Zero
	valid.Amount = &zero
	if err := valid.Validate(); err != nil {
		t.Errorf("zero amount is legal, got %v", err)
	}
}

func TestIsExcludedCategory(t *testing.T) {
	for _, c := range []string{"transfer", "advance-payment", "advance-repayment", " transfer "} {
		if !IsExcludedCategory(c) {
			t.Errorf("IsExcludedCategory(%q) = false, want true", c)
		}
	}
	for _, c := range []string{"food", "salary", "", "Transfer"} {
		if IsExcludedCategory(c) {
			t.Errorf("IsExcludedCategory(%q) = true, want false", c)
		}
	}
}

func TestAmountMarshalsAsNumber(t *testing.T) {
	b, err := json.Marshal(Entry{Amount: decimal.RequireFromString("-200.5")})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["amount"].(float64); !ok {
		t.Errorf("amount encoded as %T, want JSON number (%s)", raw["amount"], b)
	}
}
