package routing

// BudgetFor returns the number of experts activated per step for the given
// tier. The mapping is part of the routing contract rather than runtime
// configuration, changing it changes which experts every deployment selects.
// It returns 0 for a Tier value outside the four defined constants.
func BudgetFor(t Tier) int {
	switch t {
	case TierNano:
		return 2
	case TierStandard:
		return 4
	case TierPro:
		return 8
	case TierMax:
		return 16
	}
	return 0
}
