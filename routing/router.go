// Package routing implements deterministic expert selection for
// mixture-of-experts inference.
package routing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPoolSize indicates the expert pool was not initialized
	// before routing was attempted.
	ErrInvalidPoolSize = errors.New("invalid expert pool size")
	// ErrInsufficientPool indicates the pool holds fewer experts than the
	// tier's activation budget. This is a deployment defect; the caller
	// should refuse to serve the tier rather than degrade routing.
	ErrInsufficientPool = errors.New("insufficient expert pool")
	// ErrUnknownTier indicates a Tier value outside the defined constants.
	ErrUnknownTier = errors.New("unknown tier")
)

// Router selects the experts to activate for one inference step. A Router
// must be a pure function of its arguments so that routing is reproducible
// across runs, and must be safe for concurrent use.
type Router interface {
	Route(tier Tier, step uint64, poolSize int) (*Decision, error)
}

// DeterministicRouter routes by rotating a fixed-size window across the
// expert pool. The window start advances by the activation budget each step,
// so over ceil(poolSize/budget) consecutive steps every expert in the pool
// is activated at least once. It holds no state; identical arguments always
// produce identical decisions.
type DeterministicRouter struct{}

func NewDeterministicRouter() *DeterministicRouter {
	return &DeterministicRouter{}
}

// Route returns the decision for the given tier and step against a pool of
// poolSize experts. It never returns a partial or duplicated expert set: if
// the pool cannot satisfy the tier's budget, no decision is produced.
func (r *DeterministicRouter) Route(tier Tier, step uint64, poolSize int) (*Decision, error) {
	budget := BudgetFor(tier)
	if budget == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownTier, tier)
	}
	if poolSize <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoolSize, poolSize)
	}
	if budget > poolSize {
		return nil, fmt.Errorf("%w: tier %v needs %v experts, pool has %v", ErrInsufficientPool, tier, budget, poolSize)
	}

	// Reduce step first so step*budget cannot overflow; the result is the
	// same as (step*budget) mod poolSize.
	n := uint64(poolSize)
	start := int((step % n) * uint64(budget) % n)
	// budget <= poolSize, so the window never laps itself and the indices
	// are distinct.
	experts := make([]int, budget)
	for i := range experts {
		experts[i] = (start + i) % poolSize
	}
	return &Decision{Tier: tier, Step: step, Experts: experts}, nil
}
