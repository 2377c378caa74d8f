package rest

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

const (
	// streamBoundary separates multipart/x-mixed-replace parts.
	streamBoundary = "MTCONNECT_BOUNDARY"

	// defaultHeartbeat is emitted when no observation arrives within the
	// interval and the request did not specify one.
	defaultHeartbeat = 10 * time.Second
)

// streamSample serves a long-poll observation stream: each part is a sample
// document, and a heartbeat document is emitted when nothing arrives within
// the heartbeat interval.
func (s *Server) streamSample(w http.ResponseWriter, r *http.Request, from uint64, count int, filter *device.PathFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusNotImplemented, "UNSUPPORTED",
			"streaming is not supported by this connection")
		return
	}

	q := r.URL.Query()
	interval := time.Duration(0)
	if v := q.Get("interval"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			s.writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "interval must be a non-negative integer")
			return
		}
		interval = time.Duration(ms) * time.Millisecond
	}

	heartbeat := defaultHeartbeat
	if v := q.Get("heartbeat"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 1 {
			s.writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "heartbeat must be a positive integer")
			return
		}
		heartbeat = time.Duration(ms) * time.Millisecond
	}

	p := s.printerFor(r)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary="+streamBoundary)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Observe every data item in scope so admissions wake the stream.
	observer := observation.NewObserver()
	s.agent.Buffer().AddObserver(s.observedIDs(filter), observer)
	defer s.agent.Buffer().RemoveObserver(observer)

	ctx := r.Context()
	for {
		winFirst, list, resume := s.agent.SampleObservations(from, count, filter)

		if len(list) > 0 {
			observer.Reset()
			h := s.agent.Header()
			h.FirstSequence = winFirst
			h.NextSequence = resume

			doc, err := p.PrintSample(h, list)
			if err != nil {
				s.logger.Error("printing sample part", "error", err)
				return
			}
			if !s.writePart(w, flusher, p.MimeType(), doc) {
				return
			}
			from = resume

			if interval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(interval):
				}
			}
			continue
		}

		observer.Reset()
		seq, signalled := observer.Wait(ctx, heartbeat)
		switch {
		case ctx.Err() != nil:
			return
		case signalled && seq == 0:
			// Shutdown sentinel: the agent is stopping.
			return
		case !signalled:
			// Heartbeat: an empty sample document keeps the client alive.
			h := s.agent.Header()
			h.FirstSequence = winFirst
			h.NextSequence = resume
			doc, err := p.PrintSample(h, nil)
			if err != nil {
				return
			}
			if !s.writePart(w, flusher, p.MimeType(), doc) {
				return
			}
		}
	}
}

// writePart writes one multipart frame. Returns false when the client went
// away.
func (s *Server) writePart(w http.ResponseWriter, flusher http.Flusher, mime string, doc []byte) bool {
	_, err := fmt.Fprintf(w, "--%s\r\nContent-type: %s\r\nContent-length: %d\r\n\r\n%s\r\n",
		streamBoundary, mime, len(doc), doc)
	if err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// observedIDs collects the data item ids in the filter's scope.
func (s *Server) observedIDs(filter *device.PathFilter) []string {
	var ids []string
	for _, d := range s.agent.Registry().Devices() {
		for _, di := range d.DataItems() {
			if filter == nil || filter.Matches(di) {
				ids = append(ids, di.ID)
			}
		}
	}
	return ids
}
