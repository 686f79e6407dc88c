package routing

import "testing"

func TestBudgetFor(t *testing.T) {
	tests := []struct {
		tier Tier
		want int
	}{
		{tier: TierNano, want: 2},
		{tier: TierStandard, want: 4},
		{tier: TierPro, want: 8},
		{tier: TierMax, want: 16},
		{tier: Tier(42), want: 0},
	}

	for _, test := range tests {
		t.Run(test.tier.String(), func(t *testing.T) {
			if got := BudgetFor(test.tier); got != test.want {
				t.Errorf("BudgetFor(%v) = %v, want %v", test.tier, got, test.want)
			}
		})
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		input   string
		want    Tier
		wantErr bool
	}{
		{input: "nano", want: TierNano},
		{input: "standard", want: TierStandard},
		{input: "pro", want: TierPro},
		{input: "max", want: TierMax},
		{input: "Pro", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			got, err := ParseTier(test.input)
			if test.wantErr != (err != nil) {
				t.Fatalf("Unexpected error, got %v, want %v", err, test.wantErr)
			}
			if err == nil && got != test.want {
				t.Errorf("ParseTier(%q) = %v, want %v", test.input, got, test.want)
			}
		})
	}
}
