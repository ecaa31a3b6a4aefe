package pool

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"rpc-gateway/internal/endpoint"
)

// hopByHopHeaders must be stripped crossing either direction of the
// proxy boundary, per spec.md §4.2, to avoid framing corruption.
var hopByHopHeaders = []string{
	"Host",
	"Content-Length",
	"Connection",
	"Content-Encoding",
	"Transfer-Encoding",
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// buildUpstreamHeaders merges caller-supplied headers (applied first, in
// insertion order) with the endpoint's configured headers, which always
// win on key collision, then strips hop-by-hop headers.
func buildUpstreamHeaders(caller http.Header, endpointHeaders map[string]string) http.Header {
	out := make(http.Header)
	for k, values := range caller {
		for _, v := range values {
			out.Add(k, v)
		}
	}
	for k, v := range endpointHeaders {
		out.Set(k, v)
	}
	stripHopByHop(out)
	return out
}

// doForward issues the actual upstream HTTP POST: the endpoint's
// configured URL verbatim, the caller's body unmodified, headers merged
// per buildUpstreamHeaders. The method defaults to POST; spec.md §4.2
// allows a caller-supplied method, but the gateway's front end only ever
// forwards POST bodies, so this package always uses POST.
func (p *Pool) doForward(ctx context.Context, ep *endpoint.Endpoint, body []byte, callerHeaders http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = buildUpstreamHeaders(callerHeaders, ep.Headers)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	header := resp.Header.Clone()
	stripHopByHop(header)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       respBody,
	}, nil
}
