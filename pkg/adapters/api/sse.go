package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/quipu/pkg/core"
)

// doneMarker ends a stream that was stopped on purpose.
const doneMarker = "[DONE]"

// handleSubscribe streams the events of a collection as server-sent events.
// Each event is one "data: <json>" frame. A stop event is followed by the
// done marker and the end of the response.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, r, errors.New("streaming is not supported by this connection"))
		return
	}

	collection := r.PathValue("id")
	sub, err := s.engine.Subscribe(r.Context(), collection, r.URL.Query().Get("pattern"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.logger.Debug("stream opened", "collection", collection)
	defer s.logger.Debug("stream closed", "collection", collection)

	for {
		select {
		case <-r.Context().Done():
			return

		case <-tick:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case e, ok := <-sub.C():
			if !ok {
				// Dropped or shut down without a stop event.
				if err := sub.Err(); err != nil {
					writeFrame(w, "error", map[string]string{"error": err.Error()})
					flusher.Flush()
				}
				return
			}
			if err := writeFrame(w, "", e); err != nil {
				return
			}
			if e.Type == core.EventStop {
				fmt.Fprintf(w, "data: %s\n\n", doneMarker)
				flusher.Flush()
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
