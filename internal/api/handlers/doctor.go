package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saihealth/go-care/internal/domain/record"
	"github.com/saihealth/go-care/internal/domain/workflow"
	"github.com/saihealth/go-care/internal/observability/metrics"
	"github.com/saihealth/go-care/internal/reporting"
	"github.com/saihealth/go-care/internal/store"
)

// DoctorHandler handles the doctor-facing endpoints.
type DoctorHandler struct {
	svc      *workflow.Service
	store    store.Store
	reporter *reporting.Reporter
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewDoctorHandler creates the doctor handler.
func NewDoctorHandler(svc *workflow.Service, st store.Store, reporter *reporting.Reporter, m *metrics.Metrics, logger *zap.Logger) *DoctorHandler {
	return &DoctorHandler{svc: svc, store: st, reporter: reporter, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *DoctorHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/dashboard", h.Dashboard)
	r.Get("/stats/monthly", h.MonthlyStats)
	r.Get("/stats/monthly/export", h.ExportMonthlyStats)
	r.Post("/availability/toggle", h.ToggleAvailability)
	r.Post("/prescriptions", h.IssuePrescription)
	return r
}

// Dashboard handles GET /doctor/dashboard: the doctor's appointments plus
// today's earnings with hourly buckets. A date query parameter selects a
// different day.
func (h *DoctorHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	doctor, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	appointments, err := h.store.ListAppointmentsByDoctor(r.Context(), doctor.DoctorID)
	if err != nil {
		h.logger.Error("list appointments failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	daily, err := h.reporter.Daily(r.Context(), doctor.DoctorID, r.URL.Query().Get("date"))
	if err != nil {
		h.logger.Error("daily report failed", zap.Error(err))
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	prescriptions, err := h.store.ListPrescriptionsByDoctor(r.Context(), doctor.DoctorID)
	if err != nil {
		h.logger.Error("list prescriptions failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	patients := make(map[string]struct{}, len(appointments))
	for _, a := range appointments {
		patients[a.PatientID] = struct{}{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"doctor":             doctor,
		"appointments":       appointments,
		"earnings":           daily,
		"patient_count":      len(patients),
		"prescription_count": len(prescriptions),
	})
}

// MonthlyStats handles GET /doctor/stats/monthly.
func (h *DoctorHandler) MonthlyStats(w http.ResponseWriter, r *http.Request) {
	doctor, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	summaries, err := h.reporter.Monthly(r.Context(), doctor.DoctorID)
	if err != nil {
		h.logger.Error("monthly report failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"monthly": summaries})
}

// ExportMonthlyStats handles GET /doctor/stats/monthly/export: the monthly
// summary as a CSV download.
func (h *DoctorHandler) ExportMonthlyStats(w http.ResponseWriter, r *http.Request) {
	doctor, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	summaries, err := h.reporter.Monthly(r.Context(), doctor.DoctorID)
	if err != nil {
		h.logger.Error("monthly report failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("monthly_earnings_%s.csv", time.Now().Format(record.DateLayout))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := reporting.WriteCSV(w, summaries); err != nil {
		h.logger.Error("csv export failed", zap.Error(err))
	}
}

// ToggleAvailability handles POST /doctor/availability/toggle.
func (h *DoctorHandler) ToggleAvailability(w http.ResponseWriter, r *http.Request) {
	doctor, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	available, err := h.svc.ToggleAvailability(r.Context(), doctor)
	if err != nil {
		h.logger.Error("availability toggle failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

// IssuePrescriptionRequest is the request body for issuing a prescription.
type IssuePrescriptionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Medication    string `json:"medication"`
	Notes         string `json:"notes"`
	Fee           int    `json:"fee"`
}

// IssuePrescription handles POST /doctor/prescriptions. Issuing completes
// the referenced appointment; an already completed appointment is rejected.
func (h *DoctorHandler) IssuePrescription(w http.ResponseWriter, r *http.Request) {
	doctor, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	var req IssuePrescriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == "" {
		jsonError(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	p, err := h.svc.IssuePrescription(r.Context(), doctor, req.AppointmentID, req.Medication, req.Notes, req.Fee)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			jsonError(w, "appointment not found", http.StatusNotFound)
		case errors.Is(err, store.ErrNotBooked):
			jsonError(w, "appointment has already been completed", http.StatusConflict)
		case errors.Is(err, workflow.ErrInvalidFee):
			jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("prescription issue failed", zap.Error(err))
			jsonError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	h.metrics.PrescriptionsIssued.Inc()

	writeJSON(w, http.StatusCreated, p)
}
