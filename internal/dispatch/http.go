package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// CorrelationHeader carries the correlation id on HTTP requests.
const CorrelationHeader = "X-Correlation-ID"

// maxReplyBytes bounds how much of a reply body is read.
const maxReplyBytes = 16 << 20

// HTTPTransport posts envelopes to <endpoint>/v1/agents/<role>/invoke.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport creates a transport for endpoint. A nil client means http.DefaultClient;
// per-call deadlines come from the context.
func NewHTTPTransport(endpoint string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

func (t *HTTPTransport) Name() string { return "http" }

func (t *HTTPTransport) Send(ctx context.Context, role string, env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("encode envelope: %w", err)}
	}
	url := fmt.Sprintf("%s/v1/agents/%s/invoke", t.endpoint, role)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CorrelationHeader, env.CorrelationID)

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindUnreachable, Err: fmt.Errorf("read reply: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Kind: KindUnsupported, Err: fmt.Errorf("endpoint returned 404: %s", strings.TrimSpace(string(body)))}
	case resp.StatusCode >= 500:
		// An error reply from the agent itself still decodes. Anything else
		// came from a proxy or a crashed server.
		var r Reply
		if json.Unmarshal(body, &r) == nil && (r.Status == ReplyOK || r.Status == ReplyError) {
			return body, nil
		}
		return nil, &Error{Kind: KindUnreachable, Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	default:
		return nil, &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	}
}
