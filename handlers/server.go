package handlers

import (
	"io"

	extProcPb "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	klog "k8s.io/klog/v2"

	"expert-router/routing"
)

func NewServer(pp PoolProvider, router routing.Router, expertIDsHeader string) *Server {
	return &Server{
		router:          router,
		poolProvider:    pp,
		expertIDsHeader: expertIDsHeader,
	}
}

// Server implements the Envoy external processing server.
// https://www.envoyproxy.io/docs/envoy/latest/api-v3/service/ext_proc/v3/external_processor.proto
// For each inference step request it consults the router and instructs the
// compute layer which experts to activate via request headers.
type Server struct {
	router       routing.Router
	poolProvider PoolProvider
	// The key of the header carrying the expert indices to activate. This
	// value needs to match the compute layer's configuration.
	expertIDsHeader string
}

// PoolProvider supplies the total number of experts loaded for the current
// model. The router itself never owns the pool.
type PoolProvider interface {
	PoolSize() (int, error)
}

func (s *Server) Process(srv extProcPb.ExternalProcessor_ProcessServer) error {
	klog.V(2).Info("Processing")
	ctx := srv.Context()
	// Create request context to share states during life time of an HTTP request.
	// See https://github.com/envoyproxy/envoy/issues/17540.
	reqCtx := &RequestContext{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := srv.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return status.Errorf(codes.Unknown, "cannot receive stream request: %v", err)
		}

		resp := &extProcPb.ProcessingResponse{}
		switch v := req.Request.(type) {
		case *extProcPb.ProcessingRequest_RequestHeaders:
			resp = HandleRequestHeaders(reqCtx, req)
			klog.V(2).Infof("Request context after HandleRequestHeaders: %v", reqCtx)
		case *extProcPb.ProcessingRequest_RequestBody:
			resp, err = s.HandleRequestBody(reqCtx, req)
			klog.V(2).Infof("Request context after HandleRequestBody: %v", reqCtx)
		case *extProcPb.ProcessingRequest_ResponseHeaders:
			resp, err = s.HandleResponseHeaders(reqCtx, req)
			klog.V(2).Infof("Request context after HandleResponseHeaders: %v", reqCtx)
		case *extProcPb.ProcessingRequest_ResponseBody:
			resp, err = s.HandleResponseBody(reqCtx, req)
			klog.V(2).Infof("Request context after HandleResponseBody: %v", reqCtx)
		default:
			klog.Infof("Unknown Request type %+v", v)
			return status.Error(codes.Unknown, "unknown request type")
		}

		if err != nil {
			klog.Errorf("failed to process request: %v", err)
			return status.Errorf(codes.Unknown, "failed to handle request: %v", err)
		}

		klog.V(2).Infof("response: %v", resp)
		if err := srv.Send(resp); err != nil {
			klog.Infof("send error %v", err)
			return status.Errorf(codes.Unknown, "failed to send response back to Envoy: %v", err)
		}
	}
}

// RequestContext stores context information during the life time of an HTTP request.
type RequestContext struct {
	Decision *routing.Decision
	Response Response
}
