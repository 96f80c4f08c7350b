package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// CorrelationNATSHeader carries the correlation id on NATS messages.
const CorrelationNATSHeader = "Correlation-ID"

// NATSTransport sends envelopes as NATS requests on <prefix>.<role>.
type NATSTransport struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSTransport(conn *nats.Conn, subjectPrefix string) *NATSTransport {
	return &NATSTransport{conn: conn, prefix: subjectPrefix}
}

func (t *NATSTransport) Name() string { return "nats" }

// Subject returns the subject requests for role are sent on.
func (t *NATSTransport) Subject(role string) string {
	return t.prefix + "." + role
}

func (t *NATSTransport) Send(ctx context.Context, role string, env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("encode envelope: %w", err)}
	}
	msg := nats.NewMsg(t.Subject(role))
	msg.Data = payload
	msg.Header.Set(CorrelationNATSHeader, env.CorrelationID)

	reply, err := t.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return nil, &Error{Kind: KindTimeout, Err: err}
		default:
			return nil, &Error{Kind: KindUnreachable, Err: err}
		}
	}
	return reply.Data, nil
}
