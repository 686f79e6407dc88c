package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	klog "k8s.io/klog/v2"
)

func (p *Provider) refreshMetricsOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), fetchMetricsTimeout)
	defer cancel()
	start := time.Now()
	defer func() {
		d := time.Since(start)
		// TODO: add a metric instead of logging
		klog.V(4).Infof("Refreshed metrics in %v", d)
	}()
	var wg sync.WaitGroup
	errCh := make(chan error)
	processOneExpert := func(key, value any) bool {
		klog.V(4).Infof("Processing expert %v and metric %v", key, value)
		expert := key.(Expert)
		existing := value.(*ExpertMetrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := p.emc.FetchMetrics(ctx, expert, existing)
			if err != nil {
				errCh <- fmt.Errorf("failed to parse metrics from %s: %v", expert, err)
				return
			}
			p.UpdateExpertMetrics(expert, updated)
			klog.V(4).Infof("Updated metrics for expert %s: %v", expert, updated.Metrics)
		}()
		return true
	}
	p.expertMetrics.Range(processOneExpert)

	go func() {
		wg.Wait()
		close(errCh)
	}()

	var errs error
	for err := range errCh {
		errs = multierr.Append(errs, err)
	}
	return errs
}
