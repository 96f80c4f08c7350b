package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/lucasnoah/auditfactory/internal/logging"
)

// Envelope is the request body sent to a remote agent endpoint.
type Envelope struct {
	Skill         string         `json:"skill"`
	Input         map[string]any `json:"input"`
	CorrelationID string         `json:"correlation_id"`
}

// Reply statuses.
const (
	ReplyOK    = "ok"
	ReplyError = "error"
)

// Reply is the response body of a remote agent endpoint.
type Reply struct {
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
	// Code carries the dispatch kind when the endpoint could classify the failure.
	Code string `json:"code,omitempty"`
}

// Transport carries an envelope to a remote endpoint and returns the raw reply body.
// Transports classify connection failures as *Error values.
type Transport interface {
	Name() string
	Send(ctx context.Context, role string, env Envelope) ([]byte, error)
}

// RemoteBackend invokes skills over a Transport.
type RemoteBackend struct {
	transport Transport
	limiter   *rate.Limiter
}

// NewRemoteBackend wraps t. A positive ratePerSec throttles outgoing calls.
func NewRemoteBackend(t Transport, ratePerSec float64, burst int) *RemoteBackend {
	b := &RemoteBackend{transport: t}
	if ratePerSec > 0 {
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return b
}

func (b *RemoteBackend) Name() string { return b.transport.Name() }

func (b *RemoteBackend) Invoke(ctx context.Context, role, skill string, input map[string]any) (map[string]any, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &Error{Kind: KindTimeout, Role: role, Skill: skill, Err: err}
			}
			return nil, err
		}
	}

	env := Envelope{Skill: skill, Input: input, CorrelationID: logging.CorrelationID(ctx)}
	body, err := b.transport.Send(ctx, role, env)
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			de.Role, de.Skill = role, skill
			return nil, de
		}
		return nil, &Error{Kind: KindUnreachable, Role: role, Skill: skill, Err: err}
	}
	return decodeReply(role, skill, body)
}

func decodeReply(role, skill string, body []byte) (map[string]any, error) {
	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Role: role, Skill: skill, Err: fmt.Errorf("decode reply: %w", err)}
	}
	switch reply.Status {
	case ReplyOK:
		if reply.Output == nil {
			return nil, &Error{Kind: KindInvalidResponse, Role: role, Skill: skill, Err: errors.New("reply has no output")}
		}
		return reply.Output, nil
	case ReplyError:
		kind := KindAgentFailed
		if reply.Code == string(KindUnsupported) {
			kind = KindUnsupported
		}
		return nil, &Error{Kind: kind, Role: role, Skill: skill, Err: errors.New(reply.Error)}
	default:
		return nil, &Error{Kind: KindInvalidResponse, Role: role, Skill: skill, Err: fmt.Errorf("unknown reply status %q", reply.Status)}
	}
}
