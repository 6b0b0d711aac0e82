package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saihealth/go-care/internal/api/session"
	"github.com/saihealth/go-care/internal/domain/record"
	"github.com/saihealth/go-care/internal/domain/workflow"
	"github.com/saihealth/go-care/internal/observability/metrics"
	"github.com/saihealth/go-care/internal/store"
	"github.com/saihealth/go-care/pkg/idempotency"
)

// PatientHandler handles the patient-facing endpoints.
type PatientHandler struct {
	svc      *workflow.Service
	store    store.Store
	sessions *session.Manager
	// inbox deduplicates payment submissions. Nil when the service runs on
	// the in-memory store.
	inbox   *idempotency.Inbox
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPatientHandler creates the patient handler.
func NewPatientHandler(svc *workflow.Service, st store.Store, sessions *session.Manager, inbox *idempotency.Inbox, m *metrics.Metrics, logger *zap.Logger) *PatientHandler {
	return &PatientHandler{svc: svc, store: st, sessions: sessions, inbox: inbox, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *PatientHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/home", h.Home)
	r.Get("/profile", h.Profile)
	r.Post("/profile", h.UpdateProfile)
	r.Get("/doctors", h.ListDoctors)
	r.Post("/appointments", h.BookAppointment)
	r.Post("/appointments/confirm", h.ConfirmAppointment)
	r.Get("/payments/pending", h.PendingPayments)
	r.Get("/payments/initiate/{prescriptionID}", h.InitiatePayment)
	r.Post("/payments", h.Pay)
	r.Get("/payments/success/{prescriptionID}", h.PaymentSuccess)
	r.Get("/history", h.History)
	return r
}

// Home handles GET /patient/home: the signed-in patient's profile plus any
// prescriptions awaiting payment.
func (h *PatientHandler) Home(w http.ResponseWriter, r *http.Request) {
	patient, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	pending, err := h.store.ListPendingPrescriptionsByPatient(r.Context(), patient.PatientID)
	if err != nil {
		h.logger.Error("list pending prescriptions failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":                  patient,
		"pending_prescriptions": pending,
	})
}

// Profile handles GET /patient/profile.
func (h *PatientHandler) Profile(w http.ResponseWriter, r *http.Request) {
	patient, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	choices := make([]string, 0, len(record.ProfilePicChoices))
	for name := range record.ProfilePicChoices {
		choices = append(choices, name)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":                patient,
		"profile_pic_choices": choices,
	})
}

// UpdateProfileRequest is the request body for a profile update.
type UpdateProfileRequest struct {
	Age        string `json:"age"`
	Gender     string `json:"gender"`
	ProfilePic string `json:"profile_pic"`
}

// UpdateProfile handles POST /patient/profile.
func (h *PatientHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	patient, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.svc.UpdateProfile(r.Context(), patient, req.Age, req.Gender, req.ProfilePic); err != nil {
		if errors.Is(err, workflow.ErrInvalidProfilePic) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("profile update failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// ListDoctors handles GET /patient/doctors: doctors currently accepting
// appointments.
func (h *PatientHandler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.store.ListAvailableDoctors(r.Context())
	if err != nil {
		h.logger.Error("list doctors failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"doctors": doctors})
}

// BookRequest is the request body for starting a booking.
type BookRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

// BookAppointment handles POST /patient/appointments. On success a
// verification code is dispatched and the booking is parked in the session.
func (h *PatientHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	patient, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pending, err := h.svc.StartBooking(r.Context(), patient, req.DoctorID, req.Date, req.Time)
	if err != nil {
		if errors.Is(err, workflow.ErrDoctorUnavailable) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		h.metrics.OTPSendFailures.Inc()
		h.logger.Error("booking start failed", zap.Error(err))
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.metrics.OTPSendsTotal.Inc()

	if err := h.sessions.SetPendingBooking(w, r, pending); err != nil {
		h.logger.Error("save pending booking failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "verification_sent",
		"message": "a verification code has been sent to your phone",
	})
}

// ConfirmAppointment handles POST /patient/appointments/confirm. A wrong
// code keeps the pending booking for another attempt.
func (h *PatientHandler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var pending workflow.PendingBooking
	ok, err := h.sessions.PendingBooking(r, &pending)
	if err != nil || !ok {
		jsonError(w, "no booking in progress, start over at /patient/appointments", http.StatusConflict)
		return
	}

	appt, err := h.svc.ConfirmBooking(r.Context(), &pending, req.Code)
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidCode) {
			h.metrics.OTPCheckFailures.Inc()
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("booking confirm failed", zap.Error(err))
		jsonError(w, "failed to confirm appointment", http.StatusInternalServerError)
		return
	}
	h.metrics.AppointmentsBooked.Inc()

	if err := h.sessions.ClearPendingBooking(w, r); err != nil {
		h.logger.Warn("clear pending booking failed", zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, appt)
}

// PendingPayments handles GET /patient/payments/pending.
func (h *PatientHandler) PendingPayments(w http.ResponseWriter, r *http.Request) {
	patient, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	pending, err := h.store.ListPendingPrescriptionsByPatient(r.Context(), patient.PatientID)
	if err != nil {
		h.logger.Error("list pending prescriptions failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"pending_prescriptions": pending})
}

// InitiatePayment handles GET /patient/payments/initiate/{prescriptionID}:
// the prescription details a payment page renders before submission.
func (h *PatientHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	patient, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	prescriptionID := chi.URLParam(r, "prescriptionID")
	p, err := h.store.GetPrescription(r.Context(), prescriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "prescription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get prescription failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if p.PatientID != patient.PatientID {
		jsonError(w, "prescription not found", http.StatusNotFound)
		return
	}
	if p.PaymentStatus == record.PaymentCompleted {
		jsonError(w, "prescription already paid", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// PayRequest is the request body for a payment submission.
type PayRequest struct {
	PrescriptionID string `json:"prescription_id"`
	Amount         int    `json:"amount"`
	Method         string `json:"payment_method"`
}

// Pay handles POST /patient/payments. With a durable store the submission
// runs through the idempotency inbox, so a browser retry returns the
// original payment instead of settling twice.
func (h *PatientHandler) Pay(w http.ResponseWriter, r *http.Request) {
	patient, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	var req PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PrescriptionID == "" {
		jsonError(w, "prescription_id is required", http.StatusBadRequest)
		return
	}

	if h.inbox == nil {
		pay, err := h.svc.ProcessPayment(r.Context(), patient, req.PrescriptionID, req.Amount, req.Method)
		if err != nil {
			h.payError(w, err)
			return
		}
		h.metrics.PaymentsProcessed.Inc()
		writeJSON(w, http.StatusCreated, pay)
		return
	}

	key := idempotency.GenerateKey(patient.PatientID, req.PrescriptionID, req.Amount, req.Method, time.Now())
	payload, _ := json.Marshal(req)

	result, err := h.inbox.Process(r.Context(), key, "process_payment", payload,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			pay, err := h.svc.ProcessPayment(ctx, patient, req.PrescriptionID, req.Amount, req.Method)
			if err != nil {
				return nil, err
			}
			return json.Marshal(pay)
		})
	if err != nil {
		if errors.Is(err, idempotency.ErrMessageInProgress) {
			jsonError(w, "payment already in progress", http.StatusConflict)
			return
		}
		h.payError(w, err)
		return
	}

	if !result.IsNew {
		// Replayed submission, return the stored payment.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Result)
		return
	}

	h.metrics.PaymentsProcessed.Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(result.Result)
}

// PaymentSuccess handles GET /patient/payments/success/{prescriptionID}: the
// settled payment receipt for a prescription.
func (h *PatientHandler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	patient, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	prescriptionID := chi.URLParam(r, "prescriptionID")
	p, err := h.store.GetPrescription(r.Context(), prescriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "prescription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get prescription failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if p.PatientID != patient.PatientID {
		jsonError(w, "prescription not found", http.StatusNotFound)
		return
	}
	if p.PaymentStatus != record.PaymentCompleted {
		jsonError(w, "prescription not paid", http.StatusNotFound)
		return
	}

	pay, err := h.store.FindPaymentForPrescription(r.Context(), p)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "payment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("find payment failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prescription": p,
		"payment":      pay,
	})
}

func (h *PatientHandler) payError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrAlreadyPaid):
		h.metrics.PaymentsRejected.WithLabelValues("already_paid").Inc()
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, workflow.ErrAmountMismatch):
		h.metrics.PaymentsRejected.WithLabelValues("amount_mismatch").Inc()
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		h.metrics.PaymentsRejected.WithLabelValues("not_found").Inc()
		jsonError(w, "prescription not found", http.StatusNotFound)
	default:
		h.metrics.PaymentsRejected.WithLabelValues("internal").Inc()
		h.logger.Error("payment failed", zap.Error(err))
		jsonError(w, "payment failed", http.StatusInternalServerError)
	}
}

// History handles GET /patient/history: prescriptions joined to their
// payments.
func (h *PatientHandler) History(w http.ResponseWriter, r *http.Request) {
	patient, err := currentUser(r.Context(), h.store)
	if err != nil {
		jsonError(w, "account not found", http.StatusUnauthorized)
		return
	}

	entries, err := h.svc.PatientHistory(r.Context(), patient)
	if err != nil {
		h.logger.Error("patient history failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}
