package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	extProcPb "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthPb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	klog "k8s.io/klog/v2"

	"expert-router/backend"
	"expert-router/backend/runtime"
	"expert-router/handlers"
	"expert-router/routing"
)

var (
	port            = flag.Int("port", 9002, "gRPC port")
	expertIDsHeader = flag.String("expertIDsHeader", "x-expert-ids", "the header key carrying the expert indices to activate. This must match the compute layer's configuration.")
	poolSize        = flag.Int("poolSize", 0, "total number of experts loaded for the current model; 0 means discover it from the first runtime shard")
	shardAddrsFlag  = flag.String("shardAddrs", "", "comma-separated list of expert runtime shard addresses, one per expert index")

	refreshExpertsInterval = flag.Duration("refreshExpertsInterval", 10*time.Second, "interval to refresh the expert set")
	refreshMetricsInterval = flag.Duration("refreshMetricsInterval", 50*time.Millisecond, "interval to refresh expert metrics")
)

type healthServer struct{}

func (s *healthServer) Check(ctx context.Context, in *healthPb.HealthCheckRequest) (*healthPb.HealthCheckResponse, error) {
	klog.Infof("Handling grpc Check request + %s", in.String())
	return &healthPb.HealthCheckResponse{Status: healthPb.HealthCheckResponse_SERVING}, nil
}

func (s *healthServer) Watch(in *healthPb.HealthCheckRequest, srv healthPb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "Watch is not implemented")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *shardAddrsFlag == "" {
		klog.Fatal("No expert runtime shards provided. Use the -shardAddrs flag to specify a comma-separated list of shard addresses.")
	}
	shardAddrs := strings.Split(*shardAddrsFlag, ",")
	klog.Infof("Shards: %v", shardAddrs)

	datastore := backend.NewDatastore()
	for i, addr := range shardAddrs {
		datastore.AddExpert(backend.Expert{Index: i, Address: addr})
	}

	// The pool size is owned by the model-loading subsystem; take it from
	// the flag or ask the first shard.
	size := *poolSize
	if size == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		discovered, err := runtime.FetchPoolSize(ctx, shardAddrs[0])
		cancel()
		if err != nil {
			klog.Fatalf("failed to discover pool size from %v: %v", shardAddrs[0], err)
		}
		size = discovered
	}
	datastore.SetPoolSize(size)
	klog.Infof("Expert pool size: %v", size)

	klog.Infof("Listening on %q", fmt.Sprintf(":%d", *port))
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		klog.Fatalf("failed to listen: %v", err)
	}

	s := grpc.NewServer()

	pp := backend.NewProvider(&runtime.ExpertMetricsClientImpl{}, datastore)
	if err := pp.Init(*refreshExpertsInterval, *refreshMetricsInterval); err != nil {
		klog.Fatalf("failed to initialize: %v", err)
	}
	extProcPb.RegisterExternalProcessorServer(s, handlers.NewServer(pp, routing.NewDeterministicRouter(), *expertIDsHeader))
	healthPb.RegisterHealthServer(s, &healthServer{})

	klog.Infof("Starting gRPC server on port :%v", *port)

	// shutdown
	var gracefulStop = make(chan os.Signal, 1)
	signal.Notify(gracefulStop, syscall.SIGTERM)
	signal.Notify(gracefulStop, syscall.SIGINT)
	go func() {
		sig := <-gracefulStop
		klog.Infof("caught sig: %+v", sig)
		os.Exit(0)
	}()

	s.Serve(lis)
}
