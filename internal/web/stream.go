package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lucasnoah/auditfactory/internal/events"
)

// handleEvents serves run events as a Server-Sent Events stream. An optional
// run_id query parameter limits the stream to one run. A comment line is
// sent every keepAlive so idle proxies keep the connection open.
func (s *Server) handleEvents(c echo.Context) error {
	if s.deps.Events == nil {
		return errorJSON(c, http.StatusServiceUnavailable, fmt.Errorf("event streaming is not configured"))
	}
	w := c.Response()
	runID := c.QueryParam("run_id")

	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ch, cancel := s.deps.Events.Subscribe()
	defer cancel()

	tick := time.NewTicker(s.keepAlive)
	defer tick.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			w.Flush()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if runID != "" && ev.RunID != runID {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return nil
			}
			w.Flush()
			if runID != "" && ev.Type == events.RunFinished {
				fmt.Fprint(w, "event: done\ndata: run finished\n\n")
				w.Flush()
				return nil
			}
		}
	}
}

func writeEvent(w *echo.Response, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
