package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/draftea/order-system/order-service/application"
	"github.com/draftea/order-system/shared/saga"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// OrderSagaHandlers exposes read-only saga and outbox state to operators
type OrderSagaHandlers struct {
	getOrderSaga   *application.GetOrderSaga
	getOutboxStats *application.GetOutboxStats
}

// NewOrderSagaHandlers creates new order saga handlers
func NewOrderSagaHandlers(
	getOrderSaga *application.GetOrderSaga,
	getOutboxStats *application.GetOutboxStats,
) *OrderSagaHandlers {
	return &OrderSagaHandlers{
		getOrderSaga:   getOrderSaga,
		getOutboxStats: getOutboxStats,
	}
}

// GetOrderSaga handles saga retrieval requests. History is included unless
// history=false is passed.
func (h *OrderSagaHandlers) GetOrderSaga(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	includeHistory := true
	if raw := r.URL.Query().Get("history"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "Invalid history flag", http.StatusBadRequest)
			return
		}
		includeHistory = parsed
	}

	query := &application.GetOrderSagaQuery{
		OrderID:        orderID,
		IncludeHistory: includeHistory,
	}

	response, err := h.getOrderSaga.Execute(r.Context(), query)
	if err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// GetOutboxStats handles outbox backlog requests
func (h *OrderSagaHandlers) GetOutboxStats(w http.ResponseWriter, r *http.Request) {
	response, err := h.getOutboxStats.Execute(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// RegisterRoutes registers order saga routes
func (h *OrderSagaHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/orders/{id}/saga", h.GetOrderSaga)
	r.Get("/outbox/stats", h.GetOutboxStats)
}

// Health reports liveness
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
