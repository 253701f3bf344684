package delivery

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/apperr"
)

type Handler struct {
	service *Service
	logger  *logrus.Logger
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/deliveries", h.Create).Methods("POST")
	router.HandleFunc("/deliveries", h.List).Methods("GET")
	router.HandleFunc("/deliveries/{id}", h.Get).Methods("GET")
	router.HandleFunc("/deliveries/{id}/assign", h.Assign).Methods("POST")
	router.HandleFunc("/deliveries/{id}/status", h.UpdateStatus).Methods("POST")

	router.HandleFunc("/couriers", h.CreateCourier).Methods("POST")
	router.HandleFunc("/couriers", h.ListCouriers).Methods("GET")
	router.HandleFunc("/couriers/{id}", h.GetCourier).Methods("GET")
	router.HandleFunc("/couriers/{id}/availability", h.SetAvailability).Methods("POST")
	router.HandleFunc("/couriers/{id}/location", h.UpdateLocation).Methods("POST")
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	d, err := h.service.Create(&req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, d)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if orderID := r.URL.Query().Get("order_id"); orderID != "" {
		d, err := h.service.GetByOrderID(orderID)
		if err != nil {
			h.respondWithServiceError(w, err)
			return
		}
		h.respondWithJSON(w, http.StatusOK, d)
		return
	}

	deliveries, err := h.service.List()
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, d)
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CourierID string `json:"courier_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CourierID == "" {
		h.respondWithError(w, http.StatusBadRequest, "courier_id is required")
		return
	}

	d, err := h.service.AssignCourier(mux.Vars(r)["id"], req.CourierID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, d)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	d, err := h.service.UpdateStatus(mux.Vars(r)["id"], &req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, d)
}

func (h *Handler) CreateCourier(w http.ResponseWriter, r *http.Request) {
	var courier Courier
	if err := json.NewDecoder(r.Body).Decode(&courier); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.CreateCourier(&courier); err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, courier)
}

func (h *Handler) ListCouriers(w http.ResponseWriter, r *http.Request) {
	couriers, err := h.service.ListCouriers()
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"couriers": couriers,
		"count":    len(couriers),
	})
}

func (h *Handler) GetCourier(w http.ResponseWriter, r *http.Request) {
	courier, err := h.service.GetCourier(mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, courier)
}

func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	courier, err := h.service.SetCourierAvailability(mux.Vars(r)["id"], CourierStatus(req.Status))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, courier)
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Lat == nil || req.Lng == nil {
		h.respondWithError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}

	courier, err := h.service.UpdateCourierLocation(mux.Vars(r)["id"], *req.Lat, *req.Lng)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, courier)
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Delivery request failed")
		h.respondWithError(w, status, "Internal server error")
		return
	}

	var violations apperr.ValidationError
	if errors.As(err, &violations) {
		h.respondWithJSON(w, status, map[string]interface{}{
			"success":    false,
			"message":    "Validation failed",
			"violations": violations,
		})
		return
	}

	h.respondWithError(w, status, err.Error())
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
