package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tphummel/laundry_scan/internal/db"
	"github.com/tphummel/laundry_scan/internal/events"
	"github.com/tphummel/laundry_scan/internal/metrics"
	"github.com/tphummel/laundry_scan/internal/middleware"
	"github.com/tphummel/laundry_scan/internal/models"
	"github.com/tphummel/laundry_scan/internal/qr"
)

const maxBodyBytes = 64 * 1024

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	DB      *db.DB
	Events  events.Publisher
	Version string
	Commit  string
}

// Register wires every API route onto mux. Operator routes require
// adminToken; scan and order routes require a user token.
func (h *Handler) Register(mux *http.ServeMux, adminToken string) {
	admin := func(pattern string, fn http.HandlerFunc) {
		_, path, _ := strings.Cut(pattern, " ")
		mux.Handle(pattern, metrics.Middleware(path, middleware.Auth(adminToken, fn)))
	}
	user := func(pattern string, fn http.HandlerFunc) {
		_, path, _ := strings.Cut(pattern, " ")
		mux.Handle(pattern, metrics.Middleware(path, middleware.UserAuth(h.DB, fn)))
	}

	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /openapi.yaml", OpenAPISpec)
	mux.HandleFunc("GET /docs", Docs)

	admin("POST /api/v1/machines", h.CreateMachine)
	admin("GET /api/v1/machines", h.ListMachines)
	admin("GET /api/v1/machines/{id}", h.GetMachine)
	admin("PUT /api/v1/machines/{id}", h.UpdateMachine)
	admin("DELETE /api/v1/machines/{id}", h.DeleteMachine)
	admin("GET /api/v1/machines/{id}/qr.png", h.MachineQRCode)
	admin("POST /api/v1/users", h.CreateUser)
	admin("POST /api/v1/orders/{id}/complete", h.CompleteOrder)

	user("GET /api/v1/machines/lookup", h.LookupMachine)
	user("POST /api/v1/rpc/start_laundry_order", h.StartLaundryOrder)
	user("GET /api/v1/orders", h.ListOrders)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a size-limited JSON body into v, writing the error
// response itself when it returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// Health handles GET /healthz. No auth required.
// Returns 503 if the database is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.Version,
		"commit":  h.Commit,
	})
}

// validateMachine fills defaults and returns a client-facing message for the
// first invalid field, or "".
func validateMachine(m *models.Machine) string {
	if m.Name == "" || m.Type == "" || m.QRCode == "" {
		return "name, type, and qr_code are required"
	}
	if !models.ValidTypes[m.Type] {
		return "invalid type"
	}
	if m.Status == "" {
		m.Status = models.StatusAvailable
	}
	if !models.ValidStatuses[m.Status] {
		return "invalid status"
	}
	return ""
}

// CreateMachine handles POST /api/v1/machines.
func (h *Handler) CreateMachine(w http.ResponseWriter, r *http.Request) {
	var req models.Machine
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := validateMachine(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	now := time.Now().UTC()
	req.ID = uuid.New().String()
	req.CreatedAt = now
	req.UpdatedAt = now

	err := h.DB.Create(&req)
	if errors.Is(err, db.ErrDuplicateQRCode) {
		writeError(w, http.StatusConflict, "qr_code already assigned to another machine")
		return
	}
	if err != nil {
		middleware.Logger(r.Context()).Error("create machine", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create machine")
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListMachines handles GET /api/v1/machines with optional ?status= and ?type=
// filters.
func (h *Handler) ListMachines(w http.ResponseWriter, r *http.Request) {
	f := db.MachineFilter{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
	}
	if f.Type != "" && !models.ValidTypes[f.Type] {
		writeError(w, http.StatusBadRequest, "invalid type")
		return
	}
	machines, err := h.DB.List(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list machines")
		return
	}
	if machines == nil {
		machines = []*models.Machine{}
	}
	writeJSON(w, http.StatusOK, machines)
}

// GetMachine handles GET /api/v1/machines/{id}.
func (h *Handler) GetMachine(w http.ResponseWriter, r *http.Request) {
	machine, err := h.DB.GetByID(r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "machine not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get machine")
		return
	}
	writeJSON(w, http.StatusOK, machine)
}

// UpdateMachine handles PUT /api/v1/machines/{id}.
func (h *Handler) UpdateMachine(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.DB.GetByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "machine not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get machine")
		return
	}

	var req models.Machine
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status == "" {
		req.Status = existing.Status
	}
	if msg := validateMachine(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	req.ID = id
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now().UTC()

	err = h.DB.Update(&req)
	if errors.Is(err, db.ErrDuplicateQRCode) {
		writeError(w, http.StatusConflict, "qr_code already assigned to another machine")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update machine")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// DeleteMachine handles DELETE /api/v1/machines/{id}.
func (h *Handler) DeleteMachine(w http.ResponseWriter, r *http.Request) {
	err := h.DB.Delete(r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "machine not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete machine")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MachineQRCode handles GET /api/v1/machines/{id}/qr.png, rendering the
// machine's payload as a printable QR code. ?size= is clamped to 64..1024.
func (h *Handler) MachineQRCode(w http.ResponseWriter, r *http.Request) {
	machine, err := h.DB.GetByID(r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "machine not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get machine")
		return
	}

	size := 256
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid size")
			return
		}
		size = min(max(n, 64), 1024)
	}

	png, err := qr.Encode(machine.QRCode, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render qr code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png) //nolint:errcheck
}
