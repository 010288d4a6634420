package marketplace

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"builderbuddy-backend/core/marketplace"
	mpstore "builderbuddy-backend/storage/marketplace"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// eventFilter reads type, user_id, order_id, after and limit.
func eventFilter(r *http.Request) (mpstore.EventFilter, error) {
	q := r.URL.Query()
	f := mpstore.EventFilter{
		Type:   strings.TrimSpace(q.Get("type")),
		UserID: strings.TrimSpace(q.Get("user_id")),
		Limit:  intFromQuery(r, "limit", defaultEventLimit),
	}
	if f.Limit <= 0 || f.Limit > maxEventLimit {
		f.Limit = maxEventLimit
	}
	orderID, ok, err := uint64FromQuery(r, "order_id")
	if err != nil {
		return f, err
	}
	if ok {
		f.OrderID = &orderID
	}
	if f.AfterSeq, _, err = uint64FromQuery(r, "after"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filter, err := eventFilter(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamEvents(w, r, filter)
		return
	}

	events, err := s.svc.Events(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if events == nil {
		events = []marketplace.Event{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
		"seq":    s.svc.Bus.Seq(),
	})
}

// streamEvents serves SSE: the journal after filter.AfterSeq first, then
// live events. The hub subscription is taken before the replay and events
// already replayed are skipped, so nothing falls in between.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, filter mpstore.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	live, cancel := s.svc.Hub.Subscribe()
	defer cancel()
	defer s.metrics.StreamOpened()()

	backlog, err := s.svc.Events(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	last := filter.AfterSeq
	for _, evt := range backlog {
		writeSSE(w, evt)
		last = evt.Seq
	}
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt, ok := <-live:
			if !ok {
				return
			}
			if evt.Seq <= last || !filter.Matches(evt) {
				continue
			}
			last = evt.Seq
			writeSSE(w, evt)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt marketplace.Event) {
	b, _ := json.Marshal(evt)
	w.Write([]byte("id: " + strconv.FormatUint(evt.Seq, 10) + "\n"))
	w.Write([]byte("event: " + evt.Type + "\n"))
	w.Write([]byte("data: " + string(b) + "\n\n"))
}
