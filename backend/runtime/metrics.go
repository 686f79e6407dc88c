// Package runtime provides expert runtime specific metrics implementation.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/multierr"
	klog "k8s.io/klog/v2"

	"expert-router/backend"
)

const (
	PendingActivationsMetricName = "moe:expert_pending_activations"
	ActivationsTotalMetricName   = "moe:expert_activations_total"
	GPUResidentMetricName        = "moe:expert_gpu_resident"
	NumExpertsMetricName         = "moe:num_experts"
)

type ExpertMetricsClientImpl struct {
}

// FetchMetrics fetches metrics from a given expert's runtime shard.
func (c *ExpertMetricsClientImpl) FetchMetrics(ctx context.Context, expert backend.Expert, existing *backend.ExpertMetrics) (*backend.ExpertMetrics, error) {
	metricFamilies, err := scrape(ctx, expert.Address)
	if err != nil {
		klog.Errorf("failed to fetch metrics from %s: %v", expert, err)
		return nil, err
	}
	return promToExpertMetrics(metricFamilies, existing)
}

// FetchPoolSize asks a runtime shard for the number of experts loaded for
// the current model. The model-loading subsystem advertises the same count
// on every shard.
func FetchPoolSize(ctx context.Context, address string) (int, error) {
	metricFamilies, err := scrape(ctx, address)
	if err != nil {
		return 0, err
	}
	numExperts, _, err := getLatestMetric(metricFamilies, NumExpertsMetricName)
	if err != nil {
		return 0, err
	}
	return int(numExperts.GetGauge().GetValue()), nil
}

func scrape(ctx context.Context, address string) (map[string]*dto.MetricFamily, error) {
	url := fmt.Sprintf("http://%s/metrics", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metrics from %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code from %s: %v", address, resp.StatusCode)
	}

	parser := expfmt.TextParser{}
	return parser.TextToMetricFamilies(resp.Body)
}

// promToExpertMetrics updates internal expert metrics with scraped
// prometheus metrics. A combined error is returned if errors occur in one or
// more metric processing. It returns a new ExpertMetrics pointer which can
// be used to atomically update the expert metrics map.
func promToExpertMetrics(metricFamilies map[string]*dto.MetricFamily, existing *backend.ExpertMetrics) (*backend.ExpertMetrics, error) {
	var errs error
	updated := existing.Clone()
	pending, _, err := getLatestMetric(metricFamilies, PendingActivationsMetricName)
	errs = multierr.Append(errs, err)
	if err == nil {
		updated.PendingActivations = int(pending.GetGauge().GetValue())
	}
	activations, _, err := getLatestMetric(metricFamilies, ActivationsTotalMetricName)
	errs = multierr.Append(errs, err)
	if err == nil {
		updated.ActivationsTotal = int(activations.GetCounter().GetValue())
	}
	resident, _, err := getLatestMetric(metricFamilies, GPUResidentMetricName)
	errs = multierr.Append(errs, err)
	if err == nil {
		updated.GPUResident = resident.GetGauge().GetValue() != 0
	}
	return updated, errs
}

// getLatestMetric gets the latest metric of a family. This should be used to
// get the latest Gauge metric. Since the runtime doesn't set the timestamp
// in metric, this metric essentially gets the first metric.
func getLatestMetric(metricFamilies map[string]*dto.MetricFamily, metricName string) (*dto.Metric, time.Time, error) {
	mf, ok := metricFamilies[metricName]
	if !ok {
		klog.Warningf("metric family %q not found", metricName)
		return nil, time.Time{}, fmt.Errorf("metric family %q not found", metricName)
	}
	if len(mf.GetMetric()) == 0 {
		return nil, time.Time{}, fmt.Errorf("no metrics available for %q", metricName)
	}
	var latestTs int64
	var latest *dto.Metric
	for _, m := range mf.GetMetric() {
		if m.GetTimestampMs() >= latestTs {
			latestTs = m.GetTimestampMs()
			latest = m
		}
	}
	klog.V(4).Infof("Got metric value %+v for metric %v", latest, metricName)
	return latest, time.Unix(0, latestTs*1000), nil
}
