package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// editableParams are the keys /update_config accepts. Everything else in the
// parameters table is system-owned and rejected.
var editableParams = map[string]bool{
	domain.ParamQueryRefreshDelay:  true,
	domain.ParamItemsPerQuery:      true,
	domain.ParamProxyList:          true,
	domain.ParamProxyListLink:      true,
	domain.ParamCheckProxies:       true,
	domain.ParamProxyRotationInt:   true,
	domain.ParamRedeployThresholdM: true,
	domain.ParamMaxHTTPErrors:      true,
	domain.ParamTelegramEnabled:    true,
}

// numericParams must parse as positive integers before they are stored.
var numericParams = map[string]bool{
	domain.ParamQueryRefreshDelay:  true,
	domain.ParamItemsPerQuery:      true,
	domain.ParamProxyRotationInt:   true,
	domain.ParamRedeployThresholdM: true,
	domain.ParamMaxHTTPErrors:      true,
}

// maskedParams never leave the process with their real value.
var maskedParams = map[string]bool{
	domain.ParamTelegramToken: true,
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	params, err := s.store.Parameters().All(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		if maskedParams[k] && v != "" {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"config": out})
}

// handleUpdateConfig stores one key/value pair. Workers pick the new value up
// on their next cycle; nothing restarts.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	req := configUpdateRequest{
		Key:   r.FormValue("key"),
		Value: r.FormValue("value"),
	}
	if err := checkRequest(req); err != nil {
		writeError(w, r, err)
		return
	}
	if !editableParams[req.Key] {
		writeError(w, r, fmt.Errorf("%w: parameter %q is not editable", domain.ErrInvalidArgument, req.Key))
		return
	}
	if numericParams[req.Key] {
		n, err := strconv.Atoi(req.Value)
		if err != nil || n <= 0 {
			writeError(w, r, fmt.Errorf("%w: parameter %q requires a positive integer", domain.ErrInvalidArgument, req.Key))
			return
		}
	}
	if err := s.store.Parameters().Set(r.Context(), req.Key, req.Value); err != nil {
		writeError(w, r, err)
		return
	}
	LoggerFrom(r).Info("parameter updated", slog.String("key", req.Key))
	writeOK(w, fmt.Sprintf("parameter %s updated", req.Key))
}

func (s *Server) handleTelegramControl(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := chi.URLParam(r, "action"); action {
	case "start":
		err = s.notifier.Start(r.Context())
	case "stop":
		err = s.notifier.Stop(r.Context())
	default:
		writeError(w, r, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidArgument, action))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, "telegram delivery "+chi.URLParam(r, "action")+"ed")
}

func (s *Server) handleControlStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]interface{}{
		"telegram_enabled": s.notifier.Enabled(ctx),
		"active_workers":   s.fleet.ActiveWorkers(),
		"api_requests":     domain.GetParamInt(ctx, s.store.Parameters(), domain.ParamAPIRequests, 0),
	}
	if v, err := s.store.Parameters().Get(ctx, domain.ParamVersion); err == nil {
		out["version"] = v
	}
	if started := startTime(r, s.store.Parameters()); !started.IsZero() {
		out["uptime_seconds"] = int64(time.Since(started).Seconds())
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLogs renders the recent log ring as plain text, newest first.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := s.logs.Entries(0, 500, r.URL.Query().Get("level"))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, e := range entries {
		line := e.Time.UTC().Format(time.RFC3339) + " " + e.Level + " " + e.Message
		if e.Attrs != "" {
			line += " " + e.Attrs
		}
		_, _ = w.Write([]byte(line + "\n"))
	}
}

func (s *Server) handleAPILogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset := 0
	limit := 100
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("%w: offset", domain.ErrInvalidArgument))
			return
		}
		offset = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, fmt.Errorf("%w: limit", domain.ErrInvalidArgument))
			return
		}
		limit = n
	}
	entries := s.logs.Entries(offset, limit, q.Get("level"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":   entries,
		"count":  len(entries),
		"offset": offset,
	})
}

func (s *Server) handleRedeployStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.restarts.Status(r.Context()))
}

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proxies":  s.proxies.Stats(r.Context()),
		"sessions": s.sessions.Stats(),
	})
}

func (s *Server) handleForceRedeploy(w http.ResponseWriter, r *http.Request) {
	LoggerFrom(r).Warn("manual redeploy requested")
	s.restarts.ForceRestart(r.Context())
	writeOK(w, "redeploy triggered")
}
