package backend

import (
	"fmt"
	"sync"
)

func NewDatastore(options ...DatastoreOption) *Datastore {
	store := &Datastore{
		poolMu:  sync.RWMutex{},
		experts: &sync.Map{},
	}
	for _, opt := range options {
		opt(store)
	}
	return store
}

// The datastore is a local cache of the expert pool for the current model
// deployment: the pool size owned by the model-loading subsystem, and the
// set of experts with their runtime addresses.
type Datastore struct {
	// poolMu is used to synchronize access to poolSize.
	poolMu   sync.RWMutex
	poolSize int
	experts  *sync.Map
}

type DatastoreOption func(*Datastore)

// WithExperts can be used in tests to override the experts.
func WithExperts(experts []*ExpertMetrics) DatastoreOption {
	return func(store *Datastore) {
		store.experts = &sync.Map{}
		for _, em := range experts {
			store.experts.Store(em.Expert, true)
		}
		store.poolSize = len(experts)
	}
}

// WithPoolSize sets the pool size without registering expert addresses.
func WithPoolSize(size int) DatastoreOption {
	return func(store *Datastore) {
		store.poolSize = size
	}
}

func (ds *Datastore) SetPoolSize(size int) {
	ds.poolMu.Lock()
	defer ds.poolMu.Unlock()
	ds.poolSize = size
}

// PoolSize returns the total number of experts loaded for the current model.
// It fails if the pool has not been initialized yet.
func (ds *Datastore) PoolSize() (int, error) {
	ds.poolMu.RLock()
	defer ds.poolMu.RUnlock()
	if ds.poolSize == 0 {
		return 0, fmt.Errorf("expert pool hasn't been initialized yet")
	}
	return ds.poolSize, nil
}

func (ds *Datastore) AddExpert(e Expert) {
	ds.experts.Store(e, true)
}

func (ds *Datastore) AllExperts() ExpertSet {
	res := make(ExpertSet)
	ds.experts.Range(func(k, v any) bool {
		res[k.(Expert)] = true
		return true
	})
	return res
}

func (ds *Datastore) GetExpertAddresses() []string {
	var addrs []string
	ds.experts.Range(func(k, v any) bool {
		addrs = append(addrs, k.(Expert).Address)
		return true
	})
	return addrs
}
