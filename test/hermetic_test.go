// Package test contains e2e tests for the ext proc while faking the expert runtime.
package test

import (
	"context"
	"fmt"
	"log"
	"testing"
	"time"

	"expert-router/backend"

	configPb "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extProcPb "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/testing/protocmp"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	port = 9002
)

func TestHandleRequestBody(t *testing.T) {
	tests := []struct {
		name        string
		req         *extProcPb.ProcessingRequest
		experts     []*backend.ExpertMetrics
		wantHeaders []*configPb.HeaderValueOption
		wantErr     bool
	}{
		{
			name:    "standard tier fills the first window",
			req:     GenerateRequest("standard", 0),
			experts: FakeExperts(8),
			wantHeaders: []*configPb.HeaderValueOption{
				{
					Header: &configPb.HeaderValue{
						Key:      "x-expert-ids",
						RawValue: []byte("0,1,2,3"),
					},
				},
				{
					Header: &configPb.HeaderValue{
						Key:      "x-routing-step",
						RawValue: []byte("0"),
					},
				},
			},
		},
		{
			name:    "pro tier wraps around the pool",
			req:     GenerateRequest("pro", 1),
			experts: FakeExperts(10),
			wantHeaders: []*configPb.HeaderValueOption{
				{
					Header: &configPb.HeaderValue{
						Key:      "x-expert-ids",
						RawValue: []byte("8,9,0,1,2,3,4,5"),
					},
				},
				{
					Header: &configPb.HeaderValue{
						Key:      "x-routing-step",
						RawValue: []byte("1"),
					},
				},
			},
		},
		{
			name:    "max tier rejected on a small pool",
			req:     GenerateRequest("max", 0),
			experts: FakeExperts(10),
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client, cleanup := setUpServer(t, test.experts)
			t.Cleanup(cleanup)

			res, err := sendRequest(t, client, test.req)
			if (err != nil) != test.wantErr {
				t.Fatalf("Unexpected error, got %v, want %v", err, test.wantErr)
			}
			if test.wantErr {
				return
			}

			want := &extProcPb.ProcessingResponse{
				Response: &extProcPb.ProcessingResponse_RequestBody{
					RequestBody: &extProcPb.BodyResponse{
						Response: &extProcPb.CommonResponse{
							HeaderMutation: &extProcPb.HeaderMutation{
								SetHeaders: test.wantHeaders,
							},
						},
					},
				},
			}
			if diff := cmp.Diff(want, res, protocmp.Transform()); diff != "" {
				t.Errorf("Unexpected response, (-want +got): %v", diff)
			}
		})
	}
}

// TestRoutingIsReproducible sends the same step twice over independent
// streams and expects byte-identical responses.
func TestRoutingIsReproducible(t *testing.T) {
	experts := FakeExperts(16)

	first, cleanupFirst := setUpServer(t, experts)
	res1, err := sendRequest(t, first, GenerateRequest("pro", 42))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	cleanupFirst()

	second, cleanupSecond := setUpServer(t, experts)
	t.Cleanup(cleanupSecond)
	res2, err := sendRequest(t, second, GenerateRequest("pro", 42))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if diff := cmp.Diff(res1, res2, protocmp.Transform()); diff != "" {
		t.Errorf("Routing not reproducible across servers (-first +second): %v", diff)
	}
}

func setUpServer(t *testing.T, experts []*backend.ExpertMetrics) (client extProcPb.ExternalProcessor_ProcessClient, cleanup func()) {
	server := StartExtProc(port, time.Second, time.Second, experts)

	address := fmt.Sprintf("localhost:%v", port)
	// Create a grpc connection
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect to %v: %v", address, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err = extProcPb.NewExternalProcessorClient(conn).Process(ctx)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	return client, func() {
		cancel()
		conn.Close()
		server.GracefulStop()
	}
}

func sendRequest(t *testing.T, client extProcPb.ExternalProcessor_ProcessClient, req *extProcPb.ProcessingRequest) (*extProcPb.ProcessingResponse, error) {
	t.Logf("Sending request: %v", req)
	if err := client.Send(req); err != nil {
		t.Logf("Failed to send request %+v: %v", req, err)
		return nil, err
	}

	res, err := client.Recv()
	if err != nil {
		t.Logf("Failed to receive: %v", err)
		return nil, err
	}
	t.Logf("Received request %+v", res)
	return res, err
}
