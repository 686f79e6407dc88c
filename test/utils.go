package test

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	klog "k8s.io/klog/v2"

	extProcPb "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"

	"expert-router/backend"
	"expert-router/handlers"
	"expert-router/routing"
)

func StartExtProc(port int, refreshExpertsInterval, refreshMetricsInterval time.Duration, experts []*backend.ExpertMetrics) *grpc.Server {
	ems := make(map[backend.Expert]*backend.ExpertMetrics)
	for _, em := range experts {
		ems[em.Expert] = em
	}
	emc := &backend.FakeExpertMetricsClient{Res: ems}
	pp := backend.NewProvider(emc, backend.NewDatastore(backend.WithExperts(experts)))
	if err := pp.Init(refreshExpertsInterval, refreshMetricsInterval); err != nil {
		klog.Fatalf("failed to initialize: %v", err)
	}
	return startExtProc(port, pp)
}

// startExtProc starts an extProc server with fake experts.
func startExtProc(port int, pp *backend.Provider) *grpc.Server {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		klog.Fatalf("failed to listen: %v", err)
	}

	s := grpc.NewServer()

	extProcPb.RegisterExternalProcessorServer(s, handlers.NewServer(pp, routing.NewDeterministicRouter(), "x-expert-ids"))

	klog.Infof("Starting gRPC server on port :%v", port)
	reflection.Register(s)
	go s.Serve(lis)
	return s
}

func GenerateRequest(tier string, step uint64) *extProcPb.ProcessingRequest {
	j := map[string]interface{}{
		"tier": tier,
		"step": step,
	}

	stepReq, err := json.Marshal(j)
	if err != nil {
		klog.Fatal(err)
	}
	req := &extProcPb.ProcessingRequest{
		Request: &extProcPb.ProcessingRequest_RequestBody{
			RequestBody: &extProcPb.HttpBody{Body: stepReq},
		},
	}
	return req
}

func FakeExpert(index int) backend.Expert {
	return backend.Expert{
		Index:   index,
		Address: fmt.Sprintf("address-%v", index),
	}
}

func FakeExperts(n int) []*backend.ExpertMetrics {
	experts := make([]*backend.ExpertMetrics, 0, n)
	for i := 0; i < n; i++ {
		experts = append(experts, &backend.ExpertMetrics{
			Expert: FakeExpert(i),
			Metrics: backend.Metrics{
				GPUResident: true,
			},
		})
	}
	return experts
}
