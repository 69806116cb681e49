package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tphummel/laundry_scan/internal/auth"
	"github.com/tphummel/laundry_scan/internal/db"
	"github.com/tphummel/laundry_scan/internal/events"
	"github.com/tphummel/laundry_scan/internal/metrics"
	"github.com/tphummel/laundry_scan/internal/middleware"
	"github.com/tphummel/laundry_scan/internal/models"
)

// LookupMachine handles GET /api/v1/machines/lookup?qr_code=. The payload is
// matched exactly; a miss is a 404.
func (h *Handler) LookupMachine(w http.ResponseWriter, r *http.Request) {
	payload := r.URL.Query().Get("qr_code")
	if payload == "" {
		writeError(w, http.StatusBadRequest, "qr_code is required")
		return
	}
	machine, err := h.DB.GetByQRCode(payload)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.ObserveLookup(metrics.OutcomeNotFound)
		writeError(w, http.StatusNotFound, "machine not found")
		return
	}
	if err != nil {
		metrics.ObserveLookup(metrics.OutcomeError)
		writeError(w, http.StatusInternalServerError, "failed to look up machine")
		return
	}
	metrics.ObserveLookup(metrics.OutcomeFound)
	writeJSON(w, http.StatusOK, machine)
}

// startOrderRequest is the start_laundry_order argument list.
type startOrderRequest struct {
	MachineID   string `json:"p_machine_id"`
	ServiceType string `json:"p_service_type"`
}

// StartLaundryOrder handles POST /api/v1/rpc/start_laundry_order. Order
// creation and the machine status change commit together or not at all.
func (h *Handler) StartLaundryOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MachineID == "" {
		writeError(w, http.StatusBadRequest, "p_machine_id is required")
		return
	}
	if req.ServiceType == "" {
		req.ServiceType = models.DefaultServiceType
	}

	order, err := h.DB.StartLaundryOrder(r.Context(), user.ID, req.MachineID, req.ServiceType)
	switch {
	case errors.Is(err, models.ErrUnknownServiceType):
		writeError(w, http.StatusBadRequest, "unknown service type")
		return
	case errors.Is(err, models.ErrMachineNotFound):
		metrics.ObserveOrderStart(metrics.OutcomeNotFound)
		writeError(w, http.StatusNotFound, "machine not found")
		return
	case errors.Is(err, models.ErrMachineUnavailable):
		metrics.ObserveOrderStart(metrics.OutcomeUnavailable)
		writeError(w, http.StatusConflict, "machine unavailable")
		return
	case err != nil:
		metrics.ObserveOrderStart(metrics.OutcomeError)
		middleware.Logger(r.Context()).Error("start laundry order", "machine_id", req.MachineID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start laundry order")
		return
	}

	metrics.ObserveOrderStart(metrics.OutcomeStarted)
	h.publish(r.Context(), events.SubjectOrderStarted, order)
	writeJSON(w, http.StatusCreated, order)
}

// ListOrders handles GET /api/v1/orders, returning the caller's orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	orders, err := h.DB.ListOrders(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CompleteOrder handles POST /api/v1/orders/{id}/complete.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.DB.CompleteOrder(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, db.ErrOrderNotInProgress):
		writeError(w, http.StatusConflict, "order is not in progress")
		return
	case err != nil:
		middleware.Logger(r.Context()).Error("complete order", "order_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to complete order")
		return
	}
	h.publish(r.Context(), events.SubjectOrderCompleted, order)
	writeJSON(w, http.StatusOK, order)
}

// publish emits an order event. The order is already committed, so a broker
// failure is logged and does not change the response.
func (h *Handler) publish(ctx context.Context, subject string, o *models.Order) {
	if h.Events == nil {
		return
	}
	if err := events.PublishOrder(ctx, h.Events, subject, o); err != nil {
		middleware.Logger(ctx).Warn("publish order event", "subject", subject, "order_id", o.ID, "error", err)
	}
}

type createUserRequest struct {
	Name string `json:"name"`
}

type createUserResponse struct {
	models.User
	Token string `json:"token"`
}

// CreateUser handles POST /api/v1/users. The returned token is not stored
// and cannot be retrieved again.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	u := models.User{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	token, hash, err := auth.NewToken(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	if err := h.DB.CreateUser(&u, hash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, createUserResponse{User: u, Token: token})
}
