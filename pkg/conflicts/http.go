package conflicts

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/vectorwatch/platform/pkg/common/apperrors"
	"github.com/vectorwatch/platform/pkg/common/models"
	"github.com/vectorwatch/platform/pkg/gateway/auth"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/sessions/conflicts/resolve", h.handleResolve).Methods(http.MethodPost)
	r.HandleFunc("/sessions/conflicts/logs", h.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/sessions/conflicts", h.handleFind).Methods(http.MethodGet)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveConflictRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	result, err := h.service.ResolveConflict(r.Context(), auth.FromContext(r.Context()), req)
	if err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	sessionID, err := queryInt64(r, "sessionId")
	if err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	filter.SessionID = sessionID

	var page models.Page
	if v, err := queryInt(r, "page"); err != nil {
		apperrors.WriteError(w, r, err)
		return
	} else if v != nil {
		page.Page = *v
	}
	if v, err := queryInt(r, "size"); err != nil {
		apperrors.WriteError(w, r, err)
		return
	} else if v != nil {
		page.Size = *v
	}

	logs, err := h.service.ConflictLogs(r.Context(), auth.FromContext(r.Context()), filter, page)
	if err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) handleFind(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	groups, err := h.service.FindConflicts(r.Context(), auth.FromContext(r.Context()), filter)
	if err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": groups})
}

func decodeJSON(body io.Reader, v interface{}) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validation("request body is required")
		}
		return apperrors.Validation("invalid request body: %v", err)
	}
	return nil
}

func parseFilter(r *http.Request) (models.ConflictLogFilter, error) {
	var filter models.ConflictLogFilter
	site, err := queryInt64(r, "site")
	if err != nil {
		return filter, err
	}
	month, err := queryInt(r, "month")
	if err != nil {
		return filter, err
	}
	year, err := queryInt(r, "year")
	if err != nil {
		return filter, err
	}
	filter.SiteID = site
	filter.Month = month
	filter.Year = year
	return filter, nil
}

func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.Validation("%s must be an integer", name)
	}
	return &v, nil
}

func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperrors.Validation("%s must be an integer", name)
	}
	return &v, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
