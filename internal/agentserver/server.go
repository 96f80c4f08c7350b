// Package agentserver exposes locally registered agent skills to remote
// dispatchers over HTTP and NATS.
package agentserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/lucasnoah/auditfactory/internal/dispatch"
	"github.com/lucasnoah/auditfactory/internal/httpserver"
	"github.com/lucasnoah/auditfactory/internal/logging"
)

// QueueGroup is the NATS queue group agent servers join, so each request is
// answered by one server.
const QueueGroup = "auditfactory-agents"

// Invoker runs a skill. *dispatch.LocalBackend implements it.
type Invoker interface {
	Invoke(ctx context.Context, role, skill string, input map[string]any) (map[string]any, error)
}

// Server answers agent invocations.
type Server struct {
	echo     *echo.Echo
	backend  Invoker
	log      *logging.Logger
	requests *prometheus.CounterVec
	subs     []*nats.Subscription
}

// New creates a Server. reg may be nil, in which case no metrics are
// registered or served.
func New(backend Invoker, reg *prometheus.Registry, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	log = log.Named("agentserver")
	var gatherer prometheus.Gatherer
	var registerer prometheus.Registerer
	if reg != nil {
		gatherer, registerer = reg, reg
	}
	s := &Server{
		echo:    httpserver.New(log, gatherer),
		backend: backend,
		log:     log,
		requests: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "auditfactory_agent_requests_total",
			Help: "Agent invocations served, by transport, role, skill and reply status.",
		}, []string{"transport", "role", "skill", "status"}),
	}
	s.echo.POST("/v1/agents/:role/invoke", s.handleInvoke)
	return s
}

// Echo exposes the router, e.g. for tests or extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	return httpserver.Serve(ctx, s.echo, addr, shutdownTimeout, s.log)
}

func (s *Server) handleInvoke(c echo.Context) error {
	role := c.Param("role")
	var env dispatch.Envelope
	if err := json.NewDecoder(c.Request().Body).Decode(&env); err != nil {
		return c.JSON(http.StatusBadRequest, dispatch.Reply{Status: dispatch.ReplyError, Error: "invalid envelope: " + err.Error()})
	}
	ctx := c.Request().Context()
	if env.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, env.CorrelationID)
	}

	reply := s.invoke(ctx, "http", role, env)
	switch {
	case reply.Status == dispatch.ReplyOK:
		return c.JSON(http.StatusOK, reply)
	case reply.Code == string(dispatch.KindUnsupported):
		return c.JSON(http.StatusNotFound, reply)
	case reply.Code == codeBadRequest:
		return c.JSON(http.StatusBadRequest, reply)
	default:
		return c.JSON(http.StatusInternalServerError, reply)
	}
}

const codeBadRequest = "bad_request"

// invoke runs one envelope and converts the outcome to a reply.
func (s *Server) invoke(ctx context.Context, transport, role string, env dispatch.Envelope) dispatch.Reply {
	start := time.Now()
	reply := s.reply(ctx, role, env)
	s.requests.WithLabelValues(transport, role, env.Skill, reply.Status).Inc()

	fields := []zap.Field{
		zap.String("transport", transport),
		zap.String("role", role),
		zap.String("skill", env.Skill),
		zap.String("status", reply.Status),
		zap.Duration("duration", time.Since(start)),
	}
	if reply.Error != "" {
		fields = append(fields, zap.String("error", reply.Error))
		s.log.Warn(ctx, "agent invocation failed", fields...)
	} else {
		s.log.Info(ctx, "agent invocation", fields...)
	}
	return reply
}

func (s *Server) reply(ctx context.Context, role string, env dispatch.Envelope) dispatch.Reply {
	if role == "" || env.Skill == "" {
		return dispatch.Reply{Status: dispatch.ReplyError, Code: codeBadRequest, Error: "role and skill are required"}
	}
	input := env.Input
	if input == nil {
		input = map[string]any{}
	}
	out, err := s.backend.Invoke(ctx, role, env.Skill, input)
	if err != nil {
		r := dispatch.Reply{Status: dispatch.ReplyError, Error: err.Error()}
		var de *dispatch.Error
		if errors.As(err, &de) {
			r.Code = string(de.Kind)
		}
		return r
	}
	if out == nil {
		out = map[string]any{}
	}
	return dispatch.Reply{Status: dispatch.ReplyOK, Output: out}
}

// SubscribeNATS answers requests on "<prefix>.<role>" for every role.
func (s *Server) SubscribeNATS(conn *nats.Conn, prefix string) error {
	sub, err := conn.QueueSubscribe(prefix+".*", QueueGroup, func(msg *nats.Msg) {
		role := strings.TrimPrefix(msg.Subject, prefix+".")
		ctx := context.Background()

		var env dispatch.Envelope
		var reply dispatch.Reply
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			reply = dispatch.Reply{Status: dispatch.ReplyError, Code: codeBadRequest, Error: "invalid envelope: " + err.Error()}
		} else {
			id := env.CorrelationID
			if msg.Header != nil && id == "" {
				id = msg.Header.Get(dispatch.CorrelationNATSHeader)
			}
			if id != "" {
				ctx = logging.WithCorrelationID(ctx, id)
			}
			reply = s.invoke(ctx, "nats", role, env)
		}

		data, err := json.Marshal(reply)
		if err != nil {
			s.log.Error(ctx, "encode reply", zap.Error(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.log.Warn(ctx, "respond failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	s.log.Info(context.Background(), "subscribed to agent requests", zap.String("subject", prefix+".*"), zap.String("queue", QueueGroup))
	return nil
}

// Close drains NATS subscriptions.
func (s *Server) Close() error {
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}
