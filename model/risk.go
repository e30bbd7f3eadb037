package model

// RiskLevel classifies how risky a clause or contract is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// RiskProfile holds the display and scoring attributes for a risk level.
// All risk-level-dependent logic reads from this table; there is no
// switch-on-level anywhere else.
type RiskProfile struct {
	Color    string
	MinScore int
	MaxScore int
}

var riskProfiles = map[RiskLevel]RiskProfile{
	RiskLow:    {Color: "#22c55e", MinScore: 0, MaxScore: 39},
	RiskMedium: {Color: "#f59e0b", MinScore: 40, MaxScore: 69},
	RiskHigh:   {Color: "#ef4444", MinScore: 70, MaxScore: 100},
}

// Profile returns the attributes of a risk level. Unknown levels map to Low.
func (r RiskLevel) Profile() RiskProfile {
	if p, ok := riskProfiles[r]; ok {
		return p
	}
	return riskProfiles[RiskLow]
}

// Valid reports whether the level is one of the known constants.
func (r RiskLevel) Valid() bool {
	_, ok := riskProfiles[r]
	return ok
}

// RiskLevelForScore buckets a 0-100 score into a risk level. The bucketing is
// advisory: the backend assigns OverallRisk independently and the two may
// disagree, since overall risk also weighs clause severity.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= riskProfiles[RiskHigh].MinScore:
		return RiskHigh
	case score >= riskProfiles[RiskMedium].MinScore:
		return RiskMedium
	default:
		return RiskLow
	}
}
