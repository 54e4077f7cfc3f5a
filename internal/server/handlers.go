package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gorm.io/gorm"

	"hoversave/internal/bus"
	"hoversave/internal/page"
	"hoversave/internal/settings"
	"hoversave/media"
)

const (
	maxBodyBytes   = 1 << 20
	inspectBytes   = 64 << 10
	defaultPreview = 256
	maxPreview     = 2048
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(s.cfg.IndexHTML)))
	io.WriteString(w, s.cfg.IndexHTML)
}

// handleDownload accepts a JSON download request, or a form with url and an
// optional direct target for context-menu style downloads.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if s.cfg.Coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, "downloads are not configured")
		return
	}
	var reply bus.DownloadReply
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var req media.DownloadRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad download request: "+err.Error())
			return
		}
		req.SourceURL = strings.TrimSpace(req.SourceURL)
		if req.SourceURL == "" {
			writeError(w, http.StatusBadRequest, "missing url")
			return
		}
		if !gjson.GetBytes(body, "mode").Exists() {
			req.Mode = s.cfg.Settings.Snapshot().ResolveMode(req.SourceURL)
		}
		reply = s.cfg.Coordinator.Execute(r.Context(), req).Reply()
	} else {
		_ = r.ParseForm()
		target := normalizeTargetURL(firstNonEmpty(r.FormValue("url"), r.URL.Query().Get("url")))
		if target == "" {
			writeError(w, http.StatusBadRequest, "missing url")
			return
		}
		direct := media.ParseDirectTarget(firstNonEmpty(r.FormValue("direct"), r.URL.Query().Get("direct")))
		reply = s.cfg.Coordinator.DownloadDirect(r.Context(), target, direct).Reply()
	}
	status := http.StatusOK
	if reply.Error != "" {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, reply)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	target := normalizeTargetURL(r.URL.Query().Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}
	fresh := r.URL.Query().Get("fresh") != ""
	if !fresh {
		if reply, ok := s.scans.Select(target); ok {
			w.Header().Set("X-Hoversave-Cache", "hit")
			writeJSON(w, http.StatusOK, reply)
			return
		}
	}
	src, err := s.cfg.Loader(r.Context(), target)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	found, err := page.Scan(r.Context(), src, s.cfg.Settings.Snapshot())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if found == nil {
		found = []media.Candidate{}
	}
	reply := bus.ScanReply{URL: src.URL(), Candidates: found}
	s.scans.Store(target, reply)
	writeJSON(w, http.StatusOK, reply)
}

type inspectResult struct {
	media.Inspection
	// Mode is what a hover save of the URL would request right now.
	Mode string `json:"mode"`
}

// handleInspect reports what the pipeline would learn about an image from a
// ranged fetch of its header.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "fetcher is not configured")
		return
	}
	target := normalizeTargetURL(r.URL.Query().Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}
	resp, err := s.cfg.Fetcher.Head(r.Context(), target, intParam(r, "bytes", inspectBytes, 8*inspectBytes))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	res := inspectResult{
		Inspection: media.Inspect(resp),
		Mode:       s.cfg.Settings.Snapshot().ResolveMode(target).String(),
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		writeJSON(w, http.StatusOK, s.cfg.Settings.Snapshot().Map())
	case http.MethodPut, http.MethodPatch:
		s.putSettings(w, r)
	case http.MethodDelete:
		s.deleteSetting(w, r)
	default:
		w.Header().Set("Allow", "GET, PUT, PATCH, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// putSettings validates the whole map before persisting any key.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "settings are read-only")
		return
	}
	var m map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "bad settings: "+err.Error())
		return
	}
	next, err := settings.ApplyMap(s.cfg.Settings.Snapshot(), m)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.cfg.Store.SetRaw(r.Context(), k, settings.ScopeSync, m[k]); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.scans.Clear()
	writeJSON(w, http.StatusOK, next.Map())
}

func (s *Server) deleteSetting(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "settings are read-only")
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing key")
		return
	}
	if err := s.cfg.Store.Delete(r.Context(), key); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, settings.ErrUnknownKey) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	s.scans.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}
	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		rec, err := s.cfg.History.Get(r.Context(), id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "no such download")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}
	recs, err := s.cfg.History.List(r.Context(), intParam(r, "limit", 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handlePreview renders a PNG thumbnail of an image, using the response
// cache when the body is already there.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "fetcher is not configured")
		return
	}
	target := normalizeTargetURL(r.URL.Query().Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}
	data, _, err := s.cfg.Fetcher.Cached(target)
	if err != nil {
		resp, gerr := s.cfg.Fetcher.Get(r.Context(), target, "")
		if gerr != nil {
			writeError(w, http.StatusBadGateway, gerr.Error())
			return
		}
		data = resp.Data
	}
	if _, _, err := media.CheckDecodeLimits(data, s.cfg.MaxPixels, s.cfg.MaxDimension); err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "decode: "+err.Error())
		return
	}
	img, err := media.DecodeImage(data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "decode: "+err.Error())
		return
	}
	thumb := media.Thumbnail(img, intParam(r, "w", defaultPreview, maxPreview), intParam(r, "h", defaultPreview, maxPreview))
	out, err := media.EncodePNG(thumb)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	_, _ = w.Write(out)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong\n")
}
