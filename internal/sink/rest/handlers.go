package rest

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/printer"
)

// defaultSampleCount is the observation count when the request omits one.
const defaultSampleCount = 100

// maxAssetBody bounds asset ingestion payloads.
const maxAssetBody = 4 << 20

// printerFor negotiates the response printer: XML unless the client accepts
// JSON explicitly (Accept header or format=json).
func (s *Server) printerFor(r *http.Request) printer.Printer {
	if r.URL.Query().Get("format") == "json" ||
		strings.Contains(r.Header.Get("Accept"), "application/json") {
		return s.agent.Printer("json")
	}
	return s.agent.Printer("xml")
}

// writeDocument sends a rendered document.
func (s *Server) writeDocument(w http.ResponseWriter, p printer.Printer, status int, doc []byte) {
	w.Header().Set("Content-Type", p.MimeType())
	w.WriteHeader(status)
	w.Write(doc)
}

// writeError sends an MTConnectError document.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, text string) {
	p := s.printerFor(r)
	doc, err := p.PrintError(s.agent.Header(), code, text)
	if err != nil {
		http.Error(w, text, status)
		return
	}
	s.writeDocument(w, p, status, doc)
}

// scopedDevice resolves the optional {device} path parameter. ok is false
// when a name was given and does not resolve (an error document has been
// written).
func (s *Server) scopedDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	key := chi.URLParam(r, "device")
	if key == "" {
		return nil, true
	}
	d := s.agent.FindDeviceByUUIDOrName(key)
	if d == nil {
		s.writeError(w, r, http.StatusNotFound, "NO_DEVICE",
			"Could not find the device "+key)
		return nil, false
	}
	return d, true
}

// compileFilter builds the path filter for a request scope.
func (s *Server) compileFilter(w http.ResponseWriter, r *http.Request, d *device.Device) (*device.PathFilter, bool) {
	path := r.URL.Query().Get("path")
	if path == "" && d == nil {
		return nil, true
	}
	f, err := s.agent.CompilePathFilter(path, d)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "INVALID_XPATH", err.Error())
		return nil, false
	}
	return f, true
}

// handleProbe serves the device model.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	d, ok := s.scopedDevice(w, r)
	if !ok {
		return
	}

	devices := s.agent.Registry().Devices()
	if d != nil {
		devices = []*device.Device{d}
	}

	p := s.printerFor(r)
	doc, err := p.PrintProbe(s.agent.Header(), devices)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.writeDocument(w, p, http.StatusOK, doc)
}

// handleCurrent serves the latest-value snapshot, optionally reconstructed
// at a sequence.
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	d, ok := s.scopedDevice(w, r)
	if !ok {
		return
	}
	filter, ok := s.compileFilter(w, r, d)
	if !ok {
		return
	}

	var at *uint64
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "at must be an unsigned integer")
			return
		}
		at = &parsed
	}

	observations, err := s.agent.CurrentObservations(at, filter)
	if err != nil {
		if errors.Is(err, observation.ErrSequenceOutOfRange) {
			s.writeError(w, r, http.StatusBadRequest, "OUT_OF_RANGE", err.Error())
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	p := s.printerFor(r)
	doc, err := p.PrintCurrent(s.agent.Header(), observations)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.writeDocument(w, p, http.StatusOK, doc)
}

// handleSample serves a range of observations, or streams them when an
// interval is requested.
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	d, ok := s.scopedDevice(w, r)
	if !ok {
		return
	}
	filter, ok := s.compileFilter(w, r, d)
	if !ok {
		return
	}

	q := r.URL.Query()

	count := defaultSampleCount
	if v := q.Get("count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			s.writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "count must be a positive integer")
			return
		}
		count = parsed
	}

	first, next := s.agent.Buffer().SequenceRange()
	from := first
	if v := q.Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "from must be an unsigned integer")
			return
		}
		if parsed < first || parsed > next {
			s.writeError(w, r, http.StatusBadRequest, "OUT_OF_RANGE",
				"from must be between "+strconv.FormatUint(first, 10)+" and "+strconv.FormatUint(next, 10))
			return
		}
		from = parsed
	}

	if q.Get("interval") != "" {
		s.streamSample(w, r, from, count, filter)
		return
	}

	winFirst, list, resume := s.agent.SampleObservations(from, count, filter)
	h := s.agent.Header()
	h.FirstSequence = winFirst
	h.NextSequence = resume

	p := s.printerFor(r)
	doc, err := p.PrintSample(h, list)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.writeDocument(w, p, http.StatusOK, doc)
}

// handleAssets lists assets, most recently updated first.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	removed := q.Get("removed") == "true"

	list := s.agent.Assets().Assets(q.Get("device"), q.Get("type"), removed)
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(list) {
			list = list[:n]
		}
	}

	p := s.printerFor(r)
	doc, err := p.PrintAssets(s.agent.Header(), list)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.writeDocument(w, p, http.StatusOK, doc)
}

// handleAssetByID serves one or more assets by id; the id parameter accepts
// a semicolon-separated list.
func (s *Server) handleAssetByID(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(chi.URLParam(r, "id"), ";")
	assets := s.collectAssets(ids)
	if len(assets) == 0 {
		s.writeError(w, r, http.StatusNotFound, "ASSET_NOT_FOUND",
			"Could not find asset "+chi.URLParam(r, "id"))
		return
	}

	p := s.printerFor(r)
	doc, err := p.PrintAssets(s.agent.Header(), assets)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.writeDocument(w, p, http.StatusOK, doc)
}

// handleDeleteAsset removes an asset.
func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.agent.RemoveAsset(nil, id) {
		s.writeError(w, r, http.StatusNotFound, "ASSET_NOT_FOUND", "Could not find asset "+id)
		return
	}
	s.writeSuccess(w, r)
}

// handlePutAsset ingests an asset document.
func (s *Server) handlePutAsset(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAssetBody))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "cannot read body")
		return
	}

	a, err := s.agent.Factories().Parse(string(body))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		a.AssetID = id
	}
	if a.AssetID == "" {
		s.writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "asset has no assetId")
		return
	}
	if dev := r.URL.Query().Get("device"); dev != "" {
		a.DeviceUUID = dev
	}

	s.agent.ReceiveAsset(a)
	s.writeSuccess(w, r)
}

// writeSuccess acknowledges a mutation with a minimal document.
func (s *Server) writeSuccess(w http.ResponseWriter, r *http.Request) {
	p := s.printerFor(r)
	if p.MimeType() == "application/json" {
		s.writeDocument(w, p, http.StatusOK, []byte(`{"success":true}`))
		return
	}
	s.writeDocument(w, p, http.StatusOK, []byte(`<success/>`))
}

// collectAssets resolves ids against the store, skipping unknowns.
func (s *Server) collectAssets(ids []string) []*asset.Asset {
	var out []*asset.Asset
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if a := s.agent.Assets().GetAsset(id); a != nil {
			out = append(out, a)
		}
	}
	return out
}
