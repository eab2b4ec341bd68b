// Package www serves the engine's operations as a JSON API, streams engine
// events over SSE and guards the mutating routes with a session login.
package www

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"robonav/engine"
)

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
	eventHub *EventHub
	log      *zap.Logger
}

func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	logger := eng.Logger().Named("www")

	hub := NewEventHub(logger)
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: hub,
		log:      logger,
	}

	if eng.DB() != nil {
		h.ensureDefaultAdmin(eng.DB())
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/events", hub.SSEHandler)

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)

		r.Get("/tasks", h.apiListTasks)
		r.Get("/tasks/{id}", h.apiGetTask)
		r.Get("/tasks/{id}/history", h.apiTaskHistory)
		r.Get("/queue", h.apiQueueStatus)

		r.Get("/elevators", h.apiListElevators)
		r.Get("/elevators/{id}", h.apiGetElevator)
		r.Get("/navigation", h.apiNavigationStatus)

		r.Get("/doors", h.apiListDoors)
		r.Get("/doors/{id}", h.apiGetDoor)

		r.Get("/devices", h.apiListDeviceStates)
		r.Get("/devices/{id}", h.apiGetDeviceState)
		r.Get("/audit", h.apiAuditLog)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Post("/tasks", h.apiAddTask)
			r.Post("/tasks/{id}/cancel", h.apiCancelTask)
			r.Post("/tasks/{id}/pause", h.apiPauseTask)
			r.Post("/tasks/{id}/resume", h.apiResumeTask)

			r.Post("/navigate", h.apiNavigateToFloor)
			r.Post("/navigation/cancel", h.apiCancelNavigation)
			r.Post("/robot/floor", h.apiSetRobotFloor)

			r.Post("/doors/{id}/open", h.apiRequestDoorOpen)

			r.Post("/devices/doors", h.apiRegisterDoor)
			r.Post("/devices/elevators", h.apiRegisterElevator)
		})
	})

	stopFn := func() {
		hub.Stop()
	}
	return r, stopFn
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if h.engine.DB() == nil {
		h.jsonError(w, "login unavailable", http.StatusServiceUnavailable)
		return
	}

	user, err := h.engine.DB().GetAdminUser(req.Username)
	if err != nil || !checkPassword(user.PasswordHash, req.Password) {
		h.jsonError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = true
	session.Values["username"] = req.Username
	if err := session.Save(r, w); err != nil {
		h.log.Warn("session save failed", zap.Error(err))
	}
	h.jsonOK(w, map[string]string{"status": "ok", "username": req.Username})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = false
	session.Values["username"] = ""
	session.Save(r, w)
	h.jsonOK(w, map[string]string{"status": "ok"})
}
