package handlers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	configPb "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extProcPb "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	klog "k8s.io/klog/v2"

	"expert-router/routing"
)

// StepRequest is a structured representation of the fields we parse out of
// the step request body.
type StepRequest struct {
	Tier string `json:"tier"`
	Step uint64 `json:"step"`
}

// HandleRequestBody handles the body of an inference step request, such as
// parsing the "tier" and "step" parameters. Envoy sends the request body to
// ext proc before sending the request to the compute layer.
func (s *Server) HandleRequestBody(reqCtx *RequestContext, req *extProcPb.ProcessingRequest) (*extProcPb.ProcessingResponse, error) {
	klog.V(3).Infof("Handling request body")

	v := req.Request.(*extProcPb.ProcessingRequest_RequestBody)
	var sr StepRequest
	if err := json.Unmarshal(v.RequestBody.Body, &sr); err != nil {
		klog.Errorf("Error unmarshaling request body: %v", err)
		return nil, fmt.Errorf("error unmarshaling request body: %v", err)
	}
	klog.V(3).Infof("Request body: %+v", sr)

	tier, err := routing.ParseTier(sr.Tier)
	if err != nil {
		return nil, fmt.Errorf("invalid step request: %v", err)
	}

	poolSize, err := s.poolProvider.PoolSize()
	if err != nil {
		return nil, fmt.Errorf("expert pool unavailable: %v", err)
	}

	decision, err := s.router.Route(tier, sr.Step, poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to route step: %w", err)
	}
	klog.V(3).Infof("Routed step %v of tier %v to experts %v", sr.Step, tier, decision.Experts)

	reqCtx.Decision = decision

	// Insert the expert indices to instruct the compute layer which experts
	// to activate for this step.
	headers := []*configPb.HeaderValueOption{
		{
			Header: &configPb.HeaderValue{
				Key:      s.expertIDsHeader,
				RawValue: []byte(formatExpertIDs(decision.Experts)),
			},
		},
		{
			Header: &configPb.HeaderValue{
				Key:      "x-routing-step",
				RawValue: []byte(strconv.FormatUint(decision.Step, 10)),
			},
		},
	}
	for _, header := range headers {
		klog.V(3).Infof("[request_body] Header Key: %s, Header Value: %s\n", header.Header.Key, header.Header.RawValue)
	}

	resp := &extProcPb.ProcessingResponse{
		Response: &extProcPb.ProcessingResponse_RequestBody{
			RequestBody: &extProcPb.BodyResponse{
				Response: &extProcPb.CommonResponse{
					HeaderMutation: &extProcPb.HeaderMutation{
						SetHeaders: headers,
					},
				},
			},
		},
	}
	return resp, nil
}

func HandleRequestHeaders(reqCtx *RequestContext, req *extProcPb.ProcessingRequest) *extProcPb.ProcessingResponse {
	klog.V(3).Info("Handling request headers ...")
	h := req.Request.(*extProcPb.ProcessingRequest_RequestHeaders)
	klog.V(3).Infof("Headers: %+v\n", h)

	resp := &extProcPb.ProcessingResponse{
		Response: &extProcPb.ProcessingResponse_RequestHeaders{
			RequestHeaders: &extProcPb.HeadersResponse{
				Response: &extProcPb.CommonResponse{
					// Set `clear_route_cache = true` to force Envoy to recompute the target cluster
					// after the expert headers are set.
					// See https://www.envoyproxy.io/docs/envoy/latest/api-v3/service/ext_proc/v3/external_processor.proto#service-ext-proc-v3-commonresponse.
					ClearRouteCache: true,
				},
			},
		},
	}

	return resp
}

// formatExpertIDs renders the expert indices in selection order, e.g. "8,9,0,1".
func formatExpertIDs(experts []int) string {
	ids := make([]string, len(experts))
	for i, e := range experts {
		ids[i] = strconv.Itoa(e)
	}
	return strings.Join(ids, ",")
}
