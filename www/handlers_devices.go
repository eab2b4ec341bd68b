package www

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"robonav/engine"
	"robonav/geom"
	"robonav/registry"
)

func (h *Handlers) apiListElevators(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.ListElevators())
}

func (h *Handlers) apiGetElevator(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.GetElevatorStatus(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonErr(w, err)
		return
	}
	h.jsonOK(w, st)
}

func (h *Handlers) apiNavigationStatus(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.GetNavigationStatus())
}

func (h *Handlers) apiNavigateToFloor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ElevatorID  string `json:"elevator_id"`
		TargetFloor *int   `json:"target_floor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ElevatorID == "" || req.TargetFloor == nil {
		h.jsonError(w, "elevator_id and target_floor are required", http.StatusBadRequest)
		return
	}
	snap, err := h.engine.NavigateToFloor(req.ElevatorID, *req.TargetFloor)
	if err != nil {
		h.jsonErr(w, err)
		return
	}
	h.jsonOK(w, snap)
}

func (h *Handlers) apiCancelNavigation(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelNavigation(); err != nil {
		h.jsonErr(w, err)
		return
	}
	h.jsonOK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiSetRobotFloor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Floor *int `json:"floor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Floor == nil {
		h.jsonError(w, "floor is required", http.StatusBadRequest)
		return
	}
	if err := h.engine.SetRobotFloor(*req.Floor); err != nil {
		h.jsonErr(w, err)
		return
	}
	h.jsonOK(w, map[string]int{"floor": *req.Floor})
}

func (h *Handlers) apiListDoors(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.ListDoors())
}

func (h *Handlers) apiGetDoor(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.GetDoorStatus(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonErr(w, err)
		return
	}
	h.jsonOK(w, d)
}

func (h *Handlers) apiRequestDoorOpen(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RequestDoorOpen(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonErr(w, err)
		return
	}
	h.jsonOK(w, res)
}

func (h *Handlers) apiListDeviceStates(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.DeviceState().All())
}

func (h *Handlers) apiGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := h.engine.DeviceState().Get(id)
	if !ok {
		h.jsonError(w, "device "+id+": "+registry.ErrUnknownDevice.Error(), http.StatusNotFound)
		return
	}
	h.jsonOK(w, st)
}

func (h *Handlers) apiRegisterDoor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID           string       `json:"id"`
		AddressToken string       `json:"address_token"`
		Boundary     geom.Polygon `json:"boundary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.AddressToken == "" {
		h.jsonError(w, "id and address_token are required", http.StatusBadRequest)
		return
	}
	if err := h.engine.RegisterDoor(req.ID, req.AddressToken, req.Boundary); err != nil {
		h.jsonErr(w, err)
		return
	}
	d, err := h.engine.GetDoorStatus(req.ID)
	if err != nil {
		h.jsonErr(w, err)
		return
	}
	h.jsonOK(w, d)
}

func (h *Handlers) apiRegisterElevator(w http.ResponseWriter, r *http.Request) {
	var spec engine.ElevatorSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if spec.ID == "" || spec.AddressToken == "" || len(spec.Floors) == 0 {
		h.jsonError(w, "id, address_token and floors are required", http.StatusBadRequest)
		return
	}
	if err := h.engine.RegisterElevator(spec); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := h.engine.GetElevatorStatus(spec.ID)
	if err != nil {
		h.jsonErr(w, err)
		return
	}
	h.jsonOK(w, st)
}
