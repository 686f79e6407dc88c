package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	klog "k8s.io/klog/v2"
)

const (
	fetchMetricsTimeout = 5 * time.Second
)

func NewProvider(emc ExpertMetricsClient, datastore *Datastore) *Provider {
	p := &Provider{
		expertMetrics: sync.Map{},
		emc:           emc,
		datastore:     datastore,
	}
	return p
}

// Provider provides the expert pool and information such as per-expert
// runtime metrics. The routing layer consumes only the pool size; the
// metrics are observational.
type Provider struct {
	// key: Expert, value: *ExpertMetrics
	expertMetrics sync.Map
	emc           ExpertMetricsClient
	datastore     *Datastore
}

type ExpertMetricsClient interface {
	FetchMetrics(ctx context.Context, expert Expert, existing *ExpertMetrics) (*ExpertMetrics, error)
}

// PoolSize returns the total number of experts in the datastore.
func (p *Provider) PoolSize() (int, error) {
	return p.datastore.PoolSize()
}

func (p *Provider) AllExpertMetrics() []*ExpertMetrics {
	res := []*ExpertMetrics{}
	fn := func(k, v any) bool {
		res = append(res, v.(*ExpertMetrics))
		return true
	}
	p.expertMetrics.Range(fn)
	return res
}

func (p *Provider) UpdateExpertMetrics(expert Expert, em *ExpertMetrics) {
	p.expertMetrics.Store(expert, em)
}

func (p *Provider) GetExpertMetrics(expert Expert) (*ExpertMetrics, bool) {
	val, ok := p.expertMetrics.Load(expert)
	if ok {
		return val.(*ExpertMetrics), true
	}
	return nil, false
}

func (p *Provider) Init(refreshExpertsInterval, refreshMetricsInterval time.Duration) error {
	if err := p.refreshExpertsOnce(); err != nil {
		return fmt.Errorf("failed to init experts: %v", err)
	}
	if err := p.refreshMetricsOnce(); err != nil {
		return fmt.Errorf("failed to init metrics: %v", err)
	}

	klog.V(2).Infof("Initialized experts and metrics: %+v", p.AllExpertMetrics())

	// periodically refresh the expert set
	go func() {
		for {
			time.Sleep(refreshExpertsInterval)
			if err := p.refreshExpertsOnce(); err != nil {
				klog.V(1).Infof("Failed to refresh experts: %v", err)
			}
		}
	}()

	// periodically refresh metrics
	go func() {
		for {
			time.Sleep(refreshMetricsInterval)
			if err := p.refreshMetricsOnce(); err != nil {
				klog.V(1).Infof("Failed to refresh metrics: %v", err)
			}
		}
	}()

	return nil
}

// refreshExpertsOnce lists experts from the datastore and updates keys in the
// expertMetrics map. Note this function doesn't update the ExpertMetrics
// value, it's done separately.
func (p *Provider) refreshExpertsOnce() error {
	experts := p.datastore.AllExperts()
	// add new experts to the map
	for expert := range experts {
		if _, ok := p.expertMetrics.Load(expert); !ok {
			p.expertMetrics.Store(expert, &ExpertMetrics{Expert: expert})
		}
	}
	// remove experts that don't exist any more.
	mergeFn := func(k, v any) bool {
		expert := k.(Expert)
		if _, ok := experts[expert]; !ok {
			p.expertMetrics.Delete(expert)
		}
		return true
	}
	p.expertMetrics.Range(mergeFn)
	return nil
}
