package model

import "testing"

func TestRiskLevelForScore(t *testing.T) {
	tests := []struct {
		score    int
		expected RiskLevel
	}{
		{0, RiskLow},
		{39, RiskLow},
		{40, RiskMedium},
		{69, RiskMedium},
		{70, RiskHigh},
		{100, RiskHigh},
	}

	for _, tt := range tests {
		if got := RiskLevelForScore(tt.score); got != tt.expected {
			t.Errorf("RiskLevelForScore(%d) = %s, want %s", tt.score, got, tt.expected)
		}
	}
}

func TestRiskProfileLookup(t *testing.T) {
	for _, level := range []RiskLevel{RiskLow, RiskMedium, RiskHigh} {
		p := level.Profile()
		if p.Color == "" {
			t.Errorf("Expected color for level %s", level)
		}
		if p.MinScore > p.MaxScore {
			t.Errorf("Invalid score bounds for level %s: %d > %d", level, p.MinScore, p.MaxScore)
		}
	}
}

func TestRiskProfileUnknownLevel(t *testing.T) {
	p := RiskLevel("Extreme").Profile()
	if p != (RiskLow).Profile() {
		t.Error("Unknown level should fall back to Low profile")
	}
	if RiskLevel("Extreme").Valid() {
		t.Error("Unknown level should not be valid")
	}
}
