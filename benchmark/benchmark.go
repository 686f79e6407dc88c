package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/bojand/ghz/printer"
	"github.com/bojand/ghz/runner"
	extProcPb "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/jhump/protoreflect/desc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/proto"
	klog "k8s.io/klog/v2"

	"expert-router/backend"
	"expert-router/handlers"
	"expert-router/routing"
)

var (
	svrAddr       = flag.String("server_address", fmt.Sprintf("localhost:%d", port), "Address of the ext proc server")
	totalRequests = flag.Int("total_requests", 100000, "number of requests to be sent for load test")

	// Flags when running a local ext proc server.
	numFakeExperts         = flag.Int("num_fake_experts", 64, "number of fake experts when running a local ext proc server")
	localServer            = flag.Bool("local_server", true, "whether to start a local ext proc server")
	refreshExpertsInterval = flag.Duration("refreshExpertsInterval", 10*time.Second, "interval to refresh the expert set")
	refreshMetricsInterval = flag.Duration("refreshMetricsInterval", 50*time.Millisecond, "interval to refresh expert metrics")
)

const (
	port = 9002
)

var tiers = []string{"nano", "standard", "pro", "max"}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *localServer {
		go startExtProc()
		time.Sleep(time.Second) // wait until server is up
		klog.Info("Server started")
	}

	report, err := runner.Run(
		"envoy.service.ext_proc.v3.ExternalProcessor.Process",
		*svrAddr,
		runner.WithInsecure(true),
		runner.WithBinaryDataFunc(generateRequest),
		runner.WithTotalRequests(uint(*totalRequests)),
	)
	if err != nil {
		klog.Fatal(err)
	}

	printer := printer.ReportPrinter{
		Out:    os.Stdout,
		Report: report,
	}

	printer.Print("summary")
}

func generateRequest(mtd *desc.MethodDescriptor, callData *runner.CallData) []byte {
	j := map[string]interface{}{
		// Cycle through the tiers so every activation budget is exercised.
		"tier": tiers[int(callData.RequestNumber)%len(tiers)],
		"step": callData.RequestNumber,
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
	data, err := proto.Marshal(req)
	if err != nil {
		klog.Fatal("marshaling error: ", err)
	}
	return data
}

// startExtProc starts an extProc server with fake experts.
func startExtProc() {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		klog.Fatalf("failed to listen: %v", err)
	}

	s := grpc.NewServer()

	experts, ems := fakeExperts()
	emc := &backend.FakeExpertMetricsClient{Res: ems}
	pp := backend.NewProvider(emc, backend.NewDatastore(backend.WithExperts(experts)))
	if err := pp.Init(*refreshExpertsInterval, *refreshMetricsInterval); err != nil {
		klog.Fatalf("failed to initialize: %v", err)
	}
	extProcPb.RegisterExternalProcessorServer(s, handlers.NewServer(pp, routing.NewDeterministicRouter(), "x-expert-ids"))

	klog.Infof("Starting gRPC server on port :%v", port)
	reflection.Register(s)
	s.Serve(lis)
}

func fakeExperts() ([]*backend.ExpertMetrics, map[backend.Expert]*backend.ExpertMetrics) {
	experts := make([]*backend.ExpertMetrics, 0, *numFakeExperts)
	ems := make(map[backend.Expert]*backend.ExpertMetrics, *numFakeExperts)
	for i := 0; i < *numFakeExperts; i++ {
		em := &backend.ExpertMetrics{
			Expert: backend.Expert{
				Index:   i,
				Address: fmt.Sprintf("address-%v", i),
			},
			Metrics: backend.Metrics{
				GPUResident: true,
			},
		}
		experts = append(experts, em)
		ems[em.Expert] = em
	}
	return experts, ems
}
