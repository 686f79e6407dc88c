package backend

import "context"

type FakeExpertMetricsClient struct {
	Err map[Expert]error
	Res map[Expert]*ExpertMetrics
}

func (f *FakeExpertMetricsClient) FetchMetrics(ctx context.Context, expert Expert, existing *ExpertMetrics) (*ExpertMetrics, error) {
	if err, ok := f.Err[expert]; ok {
		return nil, err
	}
	return f.Res[expert], nil
}
