package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/scout/internal/tasks"
)

func dialStream(t *testing.T, env *testEnv, id string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/tasks/" + id + "/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// readAll reads events until the server closes the stream.
func readAll(t *testing.T, conn *websocket.Conn) []tasks.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []tasks.Event
	for {
		var ev tasks.Event
		err := wsjson.Read(ctx, conn, &ev)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
				return out
			}
			t.Fatalf("read after %d events: %v", len(out), err)
		}
		out = append(out, ev)
	}
}

func TestStream_LiveEventsUntilTerminal(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, &stubSearcher{gate: gate, results: parisSearcher().results}, nil, nil)

	id := invoke(t, env, "current weather in Paris")
	conn := dialStream(t, env, id)
	close(gate)

	evs := readAll(t, conn)
	if len(evs) != 5 {
		t.Fatalf("expected 5 streamed events, got %d: %+v", len(evs), evs)
	}
	if evs[0].Message != "search started" || evs[4].Type != tasks.EventCompleted {
		t.Fatalf("unexpected stream %+v", evs)
	}
}

func TestStream_ReplaysFinishedTask(t *testing.T) {
	env := newTestEnv(t, parisSearcher(), nil, nil)

	id := invoke(t, env, "current weather in Paris")
	waitResult(t, env, id)
	waitEvents(t, env, id, 5)

	evs := readAll(t, dialStream(t, env, id))
	if len(evs) != 5 || evs[4].Type != tasks.EventCompleted {
		t.Fatalf("replay = %+v", evs)
	}
}

func TestStream_UnknownTask(t *testing.T) {
	env := newTestEnv(t, parisSearcher(), nil, nil)
	resp, err := http.Get(env.srv.URL + "/tasks/nope/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
