// Package backend is a library to track the expert pool backing the router,
// such as probing per-expert runtime metrics.
package backend

import "fmt"

type ExpertSet map[Expert]bool

// Expert is one unit of specialized compute in the pool, identified by its
// index into the model's expert table. Address points at the runtime shard
// serving the expert's metrics endpoint.
type Expert struct {
	Index   int
	Address string
}

func (e Expert) String() string {
	return fmt.Sprintf("expert-%d", e.Index)
}

type Metrics struct {
	// PendingActivations is the number of activations queued on the expert's
	// runtime shard.
	PendingActivations int
	// ActivationsTotal is the cumulative activation count reported by the
	// runtime.
	ActivationsTotal int
	// GPUResident reports whether the expert's weights are currently loaded
	// to GPU.
	GPUResident bool
}

type ExpertMetrics struct {
	Expert
	Metrics
}

func (em *ExpertMetrics) String() string {
	return fmt.Sprintf("Expert: %+v; Metrics: %+v", em.Expert, em.Metrics)
}

func (em *ExpertMetrics) Clone() *ExpertMetrics {
	return &ExpertMetrics{
		Expert: em.Expert,
		Metrics: Metrics{
			PendingActivations: em.PendingActivations,
			ActivationsTotal:   em.ActivationsTotal,
			GPUResident:        em.GPUResident,
		},
	}
}
