package restaurant

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
	router.HandleFunc("/restaurants", h.UpsertRestaurant).Methods("PUT")
	router.HandleFunc("/restaurant-orders", h.List).Methods("GET")
	router.HandleFunc("/restaurant-orders/{id}", h.Get).Methods("GET")
	router.HandleFunc("/restaurant-orders/{id}/accept", h.Accept).Methods("POST")
	router.HandleFunc("/restaurant-orders/{id}/reject", h.Reject).Methods("POST")
	router.HandleFunc("/restaurant-orders/{id}/prepare", h.StartPreparing).Methods("POST")
	router.HandleFunc("/restaurant-orders/{id}/ready", h.MarkReady).Methods("POST")
	router.HandleFunc("/restaurant-orders/{id}/pickup", h.MarkPickedUp).Methods("POST")
}

func (h *Handler) UpsertRestaurant(w http.ResponseWriter, r *http.Request) {
	var restaurant Restaurant
	if err := json.NewDecoder(r.Body).Decode(&restaurant); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.service.UpsertRestaurant(&restaurant); err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, restaurant)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	restaurantID := r.URL.Query().Get("restaurant_id")
	if restaurantID == "" {
		h.respondWithError(w, http.StatusBadRequest, "restaurant_id query parameter is required")
		return
	}

	orders, err := h.service.ListByRestaurant(restaurantID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"restaurant_orders": orders,
		"count":             len(orders),
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ro, err := h.service.Get(mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, ro)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EstimatedPrepTimeMinutes *int `json:"estimated_prep_time_minutes"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ro, err := h.service.Accept(mux.Vars(r)["id"], req.EstimatedPrepTimeMinutes)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, ro)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ro, err := h.service.Reject(mux.Vars(r)["id"], req.Reason)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, ro)
}

func (h *Handler) StartPreparing(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.StartPreparing)
}

func (h *Handler) MarkReady(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkReady)
}

func (h *Handler) MarkPickedUp(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkPickedUp)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(string) (*RestaurantOrder, error)) {
	ro, err := fn(mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, ro)
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Restaurant request failed")
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
