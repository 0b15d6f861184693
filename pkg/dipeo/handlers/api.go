package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/template"
)

// maxResponseBytes bounds how much of a response body an api node reads.
const maxResponseBytes = 10 << 20

// apiHandler performs an HTTP request. The request context carries the
// node's timeout, so a slow upstream fails only this node.
//
// Properties:
//
//	url      request URL (templated against input variables); required
//	method   HTTP method, default GET
//	headers  map of header name to value (values templated)
//	body     request body (templated); implies content-type json unless
//	         a headers entry overrides it
type apiHandler struct {
	dipeo.BaseHandler
	client *http.Client
}

func newAPI(services *dipeo.ServiceRegistry) (dipeo.Handler, error) {
	h := &apiHandler{client: http.DefaultClient}
	if services.Has(ServiceHTTPClient) {
		client, err := dipeo.Resolve[*http.Client](services, ServiceHTTPClient)
		if err != nil {
			return nil, err
		}
		h.client = client
	}
	return h, nil
}

func (h *apiHandler) PreExecute(_ context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	if req.Node.Props.String("url", "") == "" {
		return nil, &dipeo.ValidationError{
			NodeID: req.Node.ID,
			Err:    fmt.Errorf("api node needs a %q property", "url"),
		}
	}
	return nil, nil
}

func (h *apiHandler) Execute(ctx context.Context, req *dipeo.Request) (*dipeo.Envelope, error) {
	vars := req.InputVars()
	url := template.Expand(req.Node.Props.String("url", ""), vars)
	method := strings.ToUpper(req.Node.Props.String("method", http.MethodGet))

	var body io.Reader
	if rawBody := req.Node.Props.String("body", ""); rawBody != "" {
		body = strings.NewReader(template.Expand(rawBody, vars))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for name, v := range req.Node.Props.Map("headers") {
		if s, ok := v.(string); ok {
			httpReq.Header.Set(name, template.Expand(s, vars))
		}
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, summarizeBody(data))
	}

	// JSON responses become structured bodies; everything else is text.
	var parsed any
	if err := json.Unmarshal(data, &parsed); err == nil {
		return dipeo.NewEnvelope(req.Node.ID, parsed,
			dipeo.WithRepresentation(dipeo.RepText, string(data))), nil
	}
	return dipeo.NewEnvelope(req.Node.ID, string(data),
		dipeo.WithRepresentation(dipeo.RepText, string(data))), nil
}

func summarizeBody(data []byte) string {
	s := string(data)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
