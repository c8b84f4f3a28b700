package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
	"github.com/fairyhunter13/vinted-notifier/internal/usecase"
)

// queryView is the JSON projection of a saved search.
type queryView struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name"`
	ThreadID    *int64 `json:"thread_id,omitempty"`
	LastItemTS  int64  `json:"last_item_ts"`
	Priority    bool   `json:"priority"`
}

func toQueryView(q domain.Query) queryView {
	return queryView{
		ID:          q.ID,
		URL:         q.URL,
		Name:        q.Name,
		DisplayName: usecase.QueryDisplayName(q),
		ThreadID:    q.ThreadID,
		LastItemTS:  q.LastItemTS,
		Priority:    q.Priority,
	}
}

// handleDashboard summarizes the running system: counters, uptime and the
// per-worker scan table.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	queries, err := s.store.Queries().List(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	totalItems, err := s.store.Items().Count(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	perDay, err := s.store.Items().PerDay(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := map[string]interface{}{
		"status":         "running",
		"queries":        len(queries),
		"total_items":    totalItems,
		"items_per_day":  perDay,
		"active_workers": s.fleet.ActiveWorkers(),
		"workers":        s.fleet.Snapshot(),
		"api_requests":   domain.GetParamInt(ctx, s.store.Parameters(), domain.ParamAPIRequests, 0),
	}
	if v, err := s.store.Parameters().Get(ctx, domain.ParamVersion); err == nil {
		out["version"] = v
	}
	if started := startTime(r, s.store.Parameters()); !started.IsZero() {
		out["started_at"] = started.UTC().Format(time.RFC3339)
		out["uptime_seconds"] = int64(time.Since(started).Seconds())
	}
	if last, err := s.store.Items().LastFound(ctx); err == nil {
		out["last_item"] = map[string]interface{}{
			"id":       last.ID,
			"title":    last.Title,
			"found_ts": last.FoundTS,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func startTime(r *http.Request, params domain.ParameterRepository) time.Time {
	v, err := params.Get(r.Context(), domain.ParamBotStartTime)
	if err != nil {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	queries, err := s.admin.ListQueries(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]queryView, 0, len(queries))
	for _, q := range queries {
		views = append(views, toQueryView(q))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queries": views})
}

func (s *Server) handleAddQuery(w http.ResponseWriter, r *http.Request) {
	req := addQueryRequest{
		Query:     r.FormValue("query"),
		QueryName: r.FormValue("query_name"),
		ThreadID:  r.FormValue("thread_id"),
	}
	if err := checkRequest(req); err != nil {
		writeError(w, r, err)
		return
	}
	var threadID *int64
	if req.ThreadID != "" {
		id, err := strconv.ParseInt(req.ThreadID, 10, 64)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: thread_id", domain.ErrInvalidArgument))
			return
		}
		threadID = &id
	}

	q, created, err := s.admin.AddQuery(r.Context(), req.Query, req.QueryName, threadID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: fmt.Sprintf("query %d already exists", q.ID)})
		return
	}
	LoggerFrom(r).Info("query added", slog.Int64("query_id", q.ID), slog.String("url", q.URL))
	writeOK(w, fmt.Sprintf("query %d added", q.ID))
}

func (s *Server) handleRemoveQuery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.admin.RemoveQuery(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, "query removed")
}

func (s *Server) handleRemoveAllQueries(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.RemoveQuery(r.Context(), "all"); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, "all queries removed")
}

func (s *Server) handleEditQuery(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: id", domain.ErrInvalidArgument))
		return
	}
	req := editQueryRequest{
		Query:     r.FormValue("query"),
		QueryName: r.FormValue("query_name"),
	}
	if err := checkRequest(req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.admin.UpdateQuery(r.Context(), id, req.Query, req.QueryName); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, "query updated")
}

func (s *Server) handleUpdateThreadID(w http.ResponseWriter, r *http.Request) {
	req := threadIDRequest{
		QueryID:  r.FormValue("query_id"),
		ThreadID: r.FormValue("thread_id"),
	}
	if err := checkRequest(req); err != nil {
		writeError(w, r, err)
		return
	}
	queryID, err := strconv.ParseInt(req.QueryID, 10, 64)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: query_id", domain.ErrInvalidArgument))
		return
	}
	var threadID *int64
	if req.ThreadID != "" {
		id, perr := strconv.ParseInt(req.ThreadID, 10, 64)
		if perr != nil {
			writeError(w, r, fmt.Errorf("%w: thread_id", domain.ErrInvalidArgument))
			return
		}
		threadID = &id
	}
	if err := s.admin.UpdateThreadID(r.Context(), queryID, threadID); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, "thread id updated")
}

func (s *Server) handleClearAllItems(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.ClearAllItems(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, "all items cleared")
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("%w: limit", domain.ErrInvalidArgument))
			return
		}
		limit = n
	}
	items, err := s.admin.Items(r.Context(), r.URL.Query().Get("query"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}

func (s *Server) handleAllowlist(w http.ResponseWriter, r *http.Request) {
	countries, err := s.admin.Allowlist(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"countries": countries})
}

func (s *Server) handleAddCountry(w http.ResponseWriter, r *http.Request) {
	req := countryRequest{Country: r.FormValue("country")}
	if err := checkRequest(req); err != nil {
		writeError(w, r, err)
		return
	}
	countries, err := s.admin.AddCountry(r.Context(), req.Country)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "countries": countries})
}

func (s *Server) handleRemoveCountry(w http.ResponseWriter, r *http.Request) {
	req := countryRequest{Country: r.FormValue("country")}
	if err := checkRequest(req); err != nil {
		writeError(w, r, err)
		return
	}
	countries, err := s.admin.RemoveCountry(r.Context(), req.Country)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "countries": countries})
}

func (s *Server) handleClearAllowlist(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.ClearAllowlist(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, "allowlist cleared")
}
