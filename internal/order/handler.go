package order

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
	router.HandleFunc("/orders", h.Create).Methods("POST")
	router.HandleFunc("/orders", h.List).Methods("GET")
	router.HandleFunc("/orders/{id}", h.Get).Methods("GET")
	router.HandleFunc("/orders/{id}", h.Update).Methods("PUT")
	router.HandleFunc("/orders/{id}", h.Delete).Methods("DELETE")
	router.HandleFunc("/orders/{id}/cancel", h.Cancel).Methods("POST")
	router.HandleFunc("/orders/{id}/payment", h.ProcessPayment).Methods("POST")
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	o, err := h.service.Create(req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, o)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.List()
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Get(mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	o, err := h.service.Update(mux.Vars(r)["id"], req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(mux.Vars(r)["id"]); err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	o, err := h.service.Cancel(mux.Vars(r)["id"], req.Reason)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.ProcessPayment(mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Order request failed")
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
