// Package memory implements the record store fallback used when PostgreSQL
// is unreachable at startup. Semantics match the postgres store: the same
// sentinel errors, the same one-shot status transitions, with a mutex-held
// critical section standing in for a transaction.
package memory

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/saihealth/go-care/internal/domain/record"
	"github.com/saihealth/go-care/internal/store"
)

// Store is the in-memory record store.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*record.User // keyed by email
	appointments  map[string]*record.Appointment
	prescriptions map[string]*record.Prescription
	payments      []*record.Payment
	logger        *zap.Logger
}

// New creates an empty in-memory store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		users:         make(map[string]*record.User),
		appointments:  make(map[string]*record.Appointment),
		prescriptions: make(map[string]*record.Prescription),
		logger:        logger,
	}
}

func cloneUser(u *record.User) *record.User {
	c := *u
	return &c
}

func cloneAppointment(a *record.Appointment) *record.Appointment {
	c := *a
	return &c
}

func clonePrescription(p *record.Prescription) *record.Prescription {
	c := *p
	c.Medication = append([]string(nil), p.Medication...)
	return &c
}

func clonePayment(p *record.Payment) *record.Payment {
	c := *p
	return &c
}

// GetUser returns the user keyed by email.
func (s *Store) GetUser(_ context.Context, email string) (*record.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

// GetDoctorByID returns the doctor with the given doctor identifier.
func (s *Store) GetDoctorByID(_ context.Context, doctorID string) (*record.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Role == record.RoleDoctor && u.DoctorID == doctorID {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

// GetPatientByID returns the patient with the given patient identifier.
func (s *Store) GetPatientByID(_ context.Context, patientID string) (*record.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Role == record.RolePatient && u.PatientID == patientID {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

// ListAvailableDoctors returns all doctors currently accepting bookings.
func (s *Store) ListAvailableDoctors(_ context.Context) ([]*record.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var doctors []*record.User
	for _, u := range s.users {
		if u.Role == record.RoleDoctor && u.Available {
			doctors = append(doctors, cloneUser(u))
		}
	}
	sort.Slice(doctors, func(i, j int) bool { return doctors[i].Name < doctors[j].Name })
	return doctors, nil
}

// SaveUser inserts a new user.
func (s *Store) SaveUser(_ context.Context, u *record.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Email]; exists {
		return store.ErrDuplicateEmail
	}
	s.users[u.Email] = cloneUser(u)
	s.logger.Debug("user saved to in-memory store", zap.String("email", u.Email), zap.String("role", string(u.Role)))
	return nil
}

// UpdateProfile updates the mutable patient profile fields.
func (s *Store) UpdateProfile(_ context.Context, email, age, gender, picURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return store.ErrNotFound
	}
	u.Age = age
	u.Gender = gender
	u.ProfilePicURL = picURL
	return nil
}

// SetAvailability flips the doctor availability flag.
func (s *Store) SetAvailability(_ context.Context, email string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok || u.Role != record.RoleDoctor {
		return store.ErrNotFound
	}
	u.Available = available
	return nil
}

// SaveAppointment inserts a confirmed appointment.
func (s *Store) SaveAppointment(_ context.Context, a *record.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[a.ID] = cloneAppointment(a)
	s.logger.Debug("appointment saved to in-memory store", zap.String("id", a.ID))
	return nil
}

// GetAppointment returns one appointment by ID.
func (s *Store) GetAppointment(_ context.Context, id string) (*record.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneAppointment(a), nil
}

// ListAppointmentsByDoctor returns all appointments for a doctor.
func (s *Store) ListAppointmentsByDoctor(_ context.Context, doctorID string) ([]*record.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var appts []*record.Appointment
	for _, a := range s.appointments {
		if a.DoctorID == doctorID {
			appts = append(appts, cloneAppointment(a))
		}
	}
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date > appts[j].Date
		}
		return appts[i].Time > appts[j].Time
	})
	return appts, nil
}

// IssuePrescription inserts the prescription and completes the referenced
// appointment under one lock, mirroring the postgres transaction.
func (s *Store) IssuePrescription(_ context.Context, p *record.Prescription, appointmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[appointmentID]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status != record.AppointmentBooked {
		return store.ErrNotBooked
	}
	s.prescriptions[p.ID] = clonePrescription(p)
	a.Status = record.AppointmentCompleted
	s.logger.Debug("prescription issued in in-memory store",
		zap.String("prescription_id", p.ID),
		zap.String("appointment_id", appointmentID))
	return nil
}

// GetPrescription returns one prescription by ID.
func (s *Store) GetPrescription(_ context.Context, id string) (*record.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePrescription(p), nil
}

func (s *Store) listPrescriptions(match func(*record.Prescription) bool) []*record.Prescription {
	var result []*record.Prescription
	for _, p := range s.prescriptions {
		if match(p) {
			result = append(result, clonePrescription(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date > result[j].Date })
	return result
}

// ListPrescriptionsByPatient returns all prescriptions for a patient.
func (s *Store) ListPrescriptionsByPatient(_ context.Context, patientID string) ([]*record.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPrescriptions(func(p *record.Prescription) bool {
		return p.PatientID == patientID
	}), nil
}

// ListPendingPrescriptionsByPatient returns the patient's unpaid prescriptions.
func (s *Store) ListPendingPrescriptionsByPatient(_ context.Context, patientID string) ([]*record.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPrescriptions(func(p *record.Prescription) bool {
		return p.PatientID == patientID && p.PaymentStatus == record.PaymentPending
	}), nil
}

// ListPrescriptionsByDoctor returns all prescriptions a doctor has written.
func (s *Store) ListPrescriptionsByDoctor(_ context.Context, doctorID string) ([]*record.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPrescriptions(func(p *record.Prescription) bool {
		return p.DoctorID == doctorID
	}), nil
}

// RecordPayment inserts the payment and settles the prescription under one
// lock. The pending -> completed check makes the transition one-shot.
func (s *Store) RecordPayment(_ context.Context, pay *record.Payment, prescriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prescriptions[prescriptionID]
	if !ok {
		return store.ErrNotFound
	}
	if p.PaymentStatus != record.PaymentPending {
		return store.ErrAlreadyPaid
	}
	p.PaymentStatus = record.PaymentCompleted
	s.payments = append(s.payments, clonePayment(pay))
	s.logger.Debug("payment recorded in in-memory store",
		zap.String("payment_id", pay.ID),
		zap.String("prescription_id", prescriptionID))
	return nil
}

func (s *Store) listPayments(match func(*record.Payment) bool) []*record.Payment {
	var result []*record.Payment
	for _, p := range s.payments {
		if match(p) {
			result = append(result, clonePayment(p))
		}
	}
	return result
}

// ListPaymentsByDoctorAndDate returns one day's payments for a doctor.
func (s *Store) ListPaymentsByDoctorAndDate(_ context.Context, doctorID, date string) ([]*record.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPayments(func(p *record.Payment) bool {
		return p.DoctorID == doctorID && p.Date == date
	}), nil
}

// ListPaymentsByDoctor returns all payments received by a doctor.
func (s *Store) ListPaymentsByDoctor(_ context.Context, doctorID string) ([]*record.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPayments(func(p *record.Payment) bool {
		return p.DoctorID == doctorID
	}), nil
}

// FindPaymentForPrescription locates the settled payment matching a
// prescription by patient, doctor, and date.
func (s *Store) FindPaymentForPrescription(_ context.Context, presc *record.Prescription) (*record.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.payments) - 1; i >= 0; i-- {
		p := s.payments[i]
		if p.PatientID == presc.PatientID && p.DoctorID == presc.DoctorID && p.Date == presc.Date && p.Status == "Completed" {
			return clonePayment(p), nil
		}
	}
	return nil, store.ErrNotFound
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(context.Context) error { return nil }
