// Package workflow implements the hospital care workflows: registration and
// booking behind phone verification, prescription issuance, and payment
// settlement. Handlers translate these into HTTP; the store enforces the
// one-shot state transitions.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/saihealth/go-care/internal/domain/record"
	"github.com/saihealth/go-care/internal/store"
	"github.com/saihealth/go-care/internal/verify"
)

var (
	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidCode indicates a rejected verification code.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrDoctorUnavailable indicates the doctor is not accepting appointments.
	ErrDoctorUnavailable = errors.New("doctor not available")
	// ErrAmountMismatch indicates the paid amount differs from the fee.
	ErrAmountMismatch = errors.New("payment amount does not match prescription fee")
	// ErrInvalidFee indicates a non-positive prescription fee.
	ErrInvalidFee = errors.New("prescription fee must be at least 1")
	// ErrInvalidProfilePic indicates an unknown profile picture choice.
	ErrInvalidProfilePic = errors.New("unknown profile picture choice")
)

// Service orchestrates the care workflows over a record store and a
// verification provider.
type Service struct {
	store    store.Store
	verifier verify.Verifier
	logger   *zap.Logger
}

// New creates a workflow service.
func New(st store.Store, verifier verify.Verifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, verifier: verifier, logger: logger}
}

// Login checks credentials and returns the user.
func (s *Service) Login(ctx context.Context, email, password string) (*record.User, error) {
	u, err := s.store.GetUser(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// PendingRegistration carries a registration awaiting code confirmation. It
// is held in the caller's session, never in the store.
type PendingRegistration struct {
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone"`
	PasswordHash string      `json:"password_hash"`
	Role         record.Role `json:"role"`
	Specialty    string      `json:"specialty,omitempty"`
}

// StartRegistration validates a registration request and dispatches a
// verification code. The duplicate-email check runs before any code is sent
// so a taken address never costs an SMS.
func (s *Service) StartRegistration(ctx context.Context, name, email, phone, password string, role record.Role, specialty string) (*PendingRegistration, error) {
	if name == "" || email == "" || password == "" {
		return nil, errors.New("name, email, and password are required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if err := verify.ValidatePhone(phone); err != nil {
		return nil, err
	}

	_, err := s.store.GetUser(ctx, email)
	if err == nil {
		return nil, store.ErrDuplicateEmail
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if err := s.verifier.SendCode(ctx, phone, "sms"); err != nil {
		return nil, fmt.Errorf("send verification code: %w", err)
	}

	s.logger.Info("registration started",
		zap.String("email", email),
		zap.String("role", string(role)))

	return &PendingRegistration{
		Name:         name,
		Email:        email,
		Phone:        phone,
		PasswordHash: string(hash),
		Role:         role,
		Specialty:    specialty,
	}, nil
}

// ConfirmRegistration checks the verification code and creates the account.
// A wrong code returns ErrInvalidCode and leaves the pending registration
// usable for another attempt.
func (s *Service) ConfirmRegistration(ctx context.Context, pending *PendingRegistration, code string) (*record.User, error) {
	ok, err := s.verifier.CheckCode(ctx, pending.Phone, code)
	if err != nil {
		return nil, fmt.Errorf("check verification code: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	u := &record.User{
		Email:        pending.Email,
		Name:         pending.Name,
		Phone:        pending.Phone,
		PasswordHash: pending.PasswordHash,
		Role:         pending.Role,
	}

	switch pending.Role {
	case record.RolePatient:
		u.PatientID = newRoleID("PAT")
		u.Age = record.NotSpecified
		u.Gender = record.NotSpecified
		u.ProfilePicURL = record.DefaultProfilePic
	case record.RoleDoctor:
		u.DoctorID = newRoleID("DOC")
		u.Specialty = pending.Specialty
		u.Available = true
	}

	if err := s.store.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}

	s.logger.Info("user registered",
		zap.String("email", u.Email),
		zap.String("role", string(u.Role)))
	return u, nil
}

// PendingBooking carries an appointment awaiting code confirmation.
type PendingBooking struct {
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
	DoctorID    string `json:"doctor_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

// StartBooking validates a booking request and dispatches a verification
// code. The doctor must exist and be accepting appointments.
func (s *Service) StartBooking(ctx context.Context, patient *record.User, doctorID, date, timeSlot string) (*PendingBooking, error) {
	if date == "" || timeSlot == "" {
		return nil, errors.New("date and time are required")
	}
	if _, err := time.Parse(record.DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	doctor, err := s.store.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDoctorUnavailable
		}
		return nil, fmt.Errorf("look up doctor: %w", err)
	}
	if !doctor.Available {
		return nil, ErrDoctorUnavailable
	}

	if err := s.verifier.SendCode(ctx, patient.Phone, "sms"); err != nil {
		return nil, fmt.Errorf("send verification code: %w", err)
	}

	s.logger.Info("booking started",
		zap.String("patient_id", patient.PatientID),
		zap.String("doctor_id", doctorID),
		zap.String("date", date))

	return &PendingBooking{
		PatientID:   patient.PatientID,
		PatientName: patient.Name,
		Phone:       patient.Phone,
		DoctorID:    doctorID,
		Date:        date,
		Time:        timeSlot,
	}, nil
}

// ConfirmBooking checks the verification code and persists the appointment.
func (s *Service) ConfirmBooking(ctx context.Context, pending *PendingBooking, code string) (*record.Appointment, error) {
	ok, err := s.verifier.CheckCode(ctx, pending.Phone, code)
	if err != nil {
		return nil, fmt.Errorf("check verification code: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	appt := &record.Appointment{
		ID:          uuid.NewString(),
		PatientID:   pending.PatientID,
		DoctorID:    pending.DoctorID,
		PatientName: pending.PatientName,
		Date:        pending.Date,
		Time:        pending.Time,
		Status:      record.AppointmentBooked,
	}

	if err := s.store.SaveAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("save appointment: %w", err)
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", appt.ID),
		zap.String("patient_id", appt.PatientID),
		zap.String("doctor_id", appt.DoctorID))
	return appt, nil
}

// IssuePrescription writes a prescription against a booked appointment and
// completes the appointment. Only the assigned doctor may issue, and only
// while the appointment is still Booked.
func (s *Service) IssuePrescription(ctx context.Context, doctor *record.User, appointmentID, medication, notes string, fee int) (*record.Prescription, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("look up appointment: %w", err)
	}
	if appt.DoctorID != doctor.DoctorID {
		return nil, fmt.Errorf("appointment %s is not assigned to this doctor", appointmentID)
	}
	if appt.Status != record.AppointmentBooked {
		return nil, store.ErrNotBooked
	}

	if fee == 0 {
		fee = record.DefaultPrescriptionFee
	}
	if fee < record.MinPrescriptionFee {
		return nil, ErrInvalidFee
	}

	meds := splitMedication(medication)
	if len(meds) == 0 {
		return nil, errors.New("at least one medication is required")
	}

	p := &record.Prescription{
		ID:            uuid.NewString(),
		PatientID:     appt.PatientID,
		DoctorID:      doctor.DoctorID,
		DoctorName:    doctor.Name,
		Date:          time.Now().Format(record.DateLayout),
		Medication:    meds,
		Notes:         notes,
		Amount:        fee,
		PaymentStatus: record.PaymentPending,
	}

	if err := s.store.IssuePrescription(ctx, p, appointmentID); err != nil {
		return nil, err
	}

	s.logger.Info("prescription issued",
		zap.String("prescription_id", p.ID),
		zap.String("appointment_id", appointmentID),
		zap.Int("amount", p.Amount))
	return p, nil
}

// ProcessPayment settles a pending prescription. The paid amount must equal
// the prescription fee exactly, and a prescription settles at most once.
func (s *Service) ProcessPayment(ctx context.Context, patient *record.User, prescriptionID string, amount int, method string) (*record.Payment, error) {
	p, err := s.store.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("look up prescription: %w", err)
	}
	if p.PatientID != patient.PatientID {
		return nil, fmt.Errorf("prescription %s does not belong to this patient", prescriptionID)
	}
	if p.PaymentStatus == record.PaymentCompleted {
		return nil, store.ErrAlreadyPaid
	}
	if amount != p.Amount {
		return nil, ErrAmountMismatch
	}
	if method == "" {
		method = "Card"
	}

	now := time.Now()
	pay := &record.Payment{
		ID:          uuid.NewString(),
		PatientID:   patient.PatientID,
		PatientName: patient.Name,
		DoctorID:    p.DoctorID,
		Amount:      amount,
		Method:      method,
		Timestamp:   now.Format(record.TimestampLayout),
		Date:        now.Format(record.DateLayout),
		Status:      "Completed",
	}

	if err := s.store.RecordPayment(ctx, pay, prescriptionID); err != nil {
		return nil, err
	}

	s.logger.Info("payment recorded",
		zap.String("payment_id", pay.ID),
		zap.String("prescription_id", prescriptionID),
		zap.Int("amount", amount))
	return pay, nil
}

// ToggleAvailability flips the doctor's availability and returns the new
// value.
func (s *Service) ToggleAvailability(ctx context.Context, doctor *record.User) (bool, error) {
	next := !doctor.Available
	if err := s.store.SetAvailability(ctx, doctor.Email, next); err != nil {
		return doctor.Available, fmt.Errorf("set availability: %w", err)
	}

	s.logger.Info("availability toggled",
		zap.String("doctor_id", doctor.DoctorID),
		zap.Bool("available", next))
	return next, nil
}

// UpdateProfile updates a patient's optional profile fields. The picture
// must be one of the fixed choices; empty fields keep their current value.
func (s *Service) UpdateProfile(ctx context.Context, patient *record.User, age, gender, picChoice string) error {
	if age == "" {
		age = patient.Age
	}
	if gender == "" {
		gender = patient.Gender
	}

	picURL := patient.ProfilePicURL
	if picChoice != "" {
		url, ok := record.ProfilePicChoices[picChoice]
		if !ok {
			return ErrInvalidProfilePic
		}
		picURL = url
	}

	return s.store.UpdateProfile(ctx, patient.Email, age, gender, picURL)
}

// HistoryEntry pairs a prescription with its payment, when one exists.
type HistoryEntry struct {
	Prescription *record.Prescription `json:"prescription"`
	Payment      *record.Payment      `json:"payment,omitempty"`
}

// PatientHistory returns the patient's prescriptions, each joined to its
// payment where one has settled.
func (s *Service) PatientHistory(ctx context.Context, patient *record.User) ([]*HistoryEntry, error) {
	prescriptions, err := s.store.ListPrescriptionsByPatient(ctx, patient.PatientID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}

	entries := make([]*HistoryEntry, 0, len(prescriptions))
	for _, p := range prescriptions {
		entry := &HistoryEntry{Prescription: p}
		if p.PaymentStatus == record.PaymentCompleted {
			pay, err := s.store.FindPaymentForPrescription(ctx, p)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("find payment: %w", err)
			}
			entry.Payment = pay
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// newRoleID derives a short display ID from a UUID, e.g. PAT-3F2A91BC.
func newRoleID(prefix string) string {
	id := uuid.NewString()
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:8])
}

// splitMedication parses a comma-separated medication list, dropping empty
// items.
func splitMedication(raw string) []string {
	parts := strings.Split(raw, ",")
	meds := make([]string, 0, len(parts))
	for _, part := range parts {
		if m := strings.TrimSpace(part); m != "" {
			meds = append(meds, m)
		}
	}
	return meds
}
