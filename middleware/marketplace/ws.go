package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleEventsWS streams events over a WebSocket with the same filters and
// replay semantics as the SSE endpoint. Clients only read; anything they
// send is ignored.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilter(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	live, unsubscribe := s.svc.Hub.Subscribe()
	defer unsubscribe()

	backlog, err := s.svc.Events(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	defer s.metrics.StreamOpened()()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Writer goroutine.
	done := make(chan error, 1)
	go func() {
		send := func(v interface{}) error {
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteMessage(websocket.TextMessage, b)
		}
		last := filter.AfterSeq
		for _, evt := range backlog {
			if err := send(evt); err != nil {
				done <- err
				return
			}
			last = evt.Seq
		}
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				done <- ctx.Err()
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					done <- err
					return
				}
			case evt, ok := <-live:
				if !ok {
					done <- nil
					return
				}
				if evt.Seq <= last || !filter.Matches(evt) {
					continue
				}
				last = evt.Seq
				if err := send(evt); err != nil {
					done <- err
					return
				}
			}
		}
	}()

	// Reader loop: only detects the peer going away.
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}

	cancel()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
	}
}
