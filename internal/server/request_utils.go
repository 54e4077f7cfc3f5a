package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// normalizeTargetURL decodes a query value and adds a scheme when missing.
// data: URIs pass through.
func normalizeTargetURL(u string) string {
	s := strings.TrimSpace(u)
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "data:") {
		return s
	}
	if !strings.Contains(s, "://") {
		if dec, err := url.QueryUnescape(s); err == nil {
			s = dec
			lower = strings.ToLower(s)
		}
	}
	if !(strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")) {
		s = "http://" + strings.TrimPrefix(s, "//")
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func intParam(r *http.Request, name string, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil || n <= 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
