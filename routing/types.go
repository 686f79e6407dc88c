package routing

import "fmt"

// Tier is the service level of an inference request. It determines how many
// experts are activated for each step.
type Tier int

const (
	TierNano Tier = iota
	TierStandard
	TierPro
	TierMax
)

func (t Tier) String() string {
	switch t {
	case TierNano:
		return "nano"
	case TierStandard:
		return "standard"
	case TierPro:
		return "pro"
	case TierMax:
		return "max"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier converts the wire representation of a tier to its Tier value.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "nano":
		return TierNano, nil
	case "standard":
		return TierStandard, nil
	case "pro":
		return TierPro, nil
	case "max":
		return TierMax, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// Decision is the result of routing one inference step: the expert indices to
// activate, in selection order, tagged with the tier and step that produced
// them. A decision is complete, it always holds exactly BudgetFor(Tier)
// distinct indices.
type Decision struct {
	Tier Tier
	Step uint64
	// Experts are indices into the caller's expert table, each in
	// [0, poolSize). The order is the circular selection order, not sorted.
	Experts []int
}

func (d *Decision) String() string {
	return fmt.Sprintf("tier: %v, step: %v, experts: %v", d.Tier, d.Step, d.Experts)
}
