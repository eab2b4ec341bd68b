package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"robonav/registry"
	"robonav/taskqueue"
)

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	robotOK := h.engine.Gateway().Ping() == nil
	h.jsonOK(w, map[string]any{
		"status":    "ok",
		"robot":     robotOK,
		"messaging": h.engine.MsgClient().IsConnected(),
		"sse":       h.eventHub.ClientCount(),
	})
}

func (h *Handlers) apiListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.engine.ListTasks()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.State) == state {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	h.jsonOK(w, tasks)
}

func (h *Handlers) apiGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonErr(w, err)
		return
	}
	h.jsonOK(w, t)
}

func (h *Handlers) apiTaskHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.engine.GetTask(id); err != nil {
		h.jsonErr(w, err)
		return
	}
	if h.engine.DB() == nil {
		h.jsonOK(w, []any{})
		return
	}
	history, err := h.engine.DB().ListTaskHistory(id)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, history)
}

func (h *Handlers) apiQueueStatus(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.GetQueueStatus())
}

func (h *Handlers) apiAddTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type         string         `json:"type"`
		Params       map[string]any `json:"params"`
		Priority     string         `json:"priority"`
		Dependencies []string       `json:"dependencies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		h.jsonError(w, "type is required", http.StatusBadRequest)
		return
	}
	res, err := h.engine.AddTask(req.Type, req.Params, req.Priority, req.Dependencies)
	if err != nil {
		h.jsonErr(w, err)
		return
	}
	h.log.Info("task added", zap.String("task_id", res.TaskID), zap.String("type", req.Type),
		zap.String("by", h.getUsername(r)))
	h.jsonOK(w, res)
}

func (h *Handlers) apiCancelTask(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, h.engine.CancelTask)
}

func (h *Handlers) apiPauseTask(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, h.engine.PauseTask)
}

func (h *Handlers) apiResumeTask(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, h.engine.ResumeTask)
}

func (h *Handlers) taskAction(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(id); err != nil {
		h.jsonErr(w, err)
		return
	}
	t, err := h.engine.GetTask(id)
	if err != nil {
		h.jsonErr(w, err)
		return
	}
	h.jsonOK(w, t)
}

func (h *Handlers) apiAuditLog(w http.ResponseWriter, r *http.Request) {
	if h.engine.DB() == nil {
		h.jsonOK(w, []any{})
		return
	}
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	entries, err := h.engine.DB().ListAuditLog(limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, entries)
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// jsonErr writes err with the status code its sentinel maps to.
func (h *Handlers) jsonErr(w http.ResponseWriter, err error) {
	h.jsonError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownDevice), errors.Is(err, taskqueue.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidFloor),
		errors.Is(err, registry.ErrInvalidPolygon),
		errors.Is(err, taskqueue.ErrUnsupportedTaskType),
		errors.Is(err, taskqueue.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, registry.ErrMessagingUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, registry.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
