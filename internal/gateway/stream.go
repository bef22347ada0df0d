package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/scout/internal/bus"
	"github.com/basket/scout/internal/runner"
	"github.com/basket/scout/internal/tasks"
)

const streamWriteTimeout = 10 * time.Second

// handleTaskStream implements GET /tasks/{task_id}/stream. It replays the
// task's log over a WebSocket, then forwards live events until the terminal
// one, after which it closes the connection normally.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	taskID := r.PathValue("task_id")

	status, _, err := s.cfg.Service.Status(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if status == runner.StatusUnknown {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}

	snapshot, sub, err := s.cfg.Service.Watch(r.Context(), taskID)
	if err != nil {
		s.logger.WarnContext(r.Context(), "stream: watch failed", "task_id", taskID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "streaming not available")
		return
	}
	defer s.cfg.Service.Unwatch(sub)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket library.
		OriginPatterns: originPatterns(s.cfg.AllowOrigins),
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	// Reads only serve to notice the peer going away.
	ctx := conn.CloseRead(r.Context())
	logger := s.logger.With("task_id", taskID)
	logger.DebugContext(ctx, "stream: client connected", "replay", len(snapshot))

	seen := 0
	// forward writes evs[seen:] and reports whether a terminal event went out.
	forward := func(evs []tasks.Event) (bool, error) {
		for ; seen < len(evs); seen++ {
			if err := writeEvent(ctx, conn, evs[seen]); err != nil {
				return false, err
			}
			if evs[seen].Type.Terminal() {
				return true, nil
			}
		}
		return false, nil
	}

	done, err := forward(snapshot)
	for err == nil && !done {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "stream: client disconnected")
			return
		case msg, ok := <-sub.Ch():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			te, ok := msg.Payload.(bus.TaskEvent)
			if !ok || te.TaskID != taskID || te.Seq < seen {
				continue
			}
			if te.Seq == seen {
				ev := tasks.Event{Type: tasks.EventType(te.Type), Message: te.Message}
				if err = writeEvent(ctx, conn, ev); err == nil {
					seen++
					done = ev.Type.Terminal()
				}
				continue
			}
			// The bus drops on a slow subscriber; refill the gap from the store.
			logger.DebugContext(ctx, "stream: refilling gap", "seen", seen, "got", te.Seq, "dropped", sub.Dropped())
			var evs []tasks.Event
			if evs, err = s.cfg.Service.Events(ctx, taskID); err == nil {
				done, err = forward(evs)
			}
		}
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.DebugContext(ctx, "stream: write failed", "error", err)
		}
		return
	}
	conn.Close(websocket.StatusNormalClosure, "task finished")
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev tasks.Event) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

// originPatterns turns configured origins into the host patterns the
// websocket library matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		out = append(out, o)
	}
	return out
}
